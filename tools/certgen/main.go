// Package main generates a development CA, a server certificate and one
// client certificate per operator for the lock service's mutual TLS.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/atinyakov/sessionlock/internal/certgen"
)

func main() {
	dir := flag.String("out", "certs", "output directory")
	host := flag.String("host", "localhost", "server host name or IP")
	users := flag.String("users", "alice", "comma-separated operator ids, one client certificate each")
	flag.Parse()

	if err := run(*dir, *host, strings.Split(*users, ",")); err != nil {
		log.Fatal(err)
	}
	fmt.Println("✅ Certificates generated into", *dir)
}

// run writes ca.{crt,key}, server.{crt,key} and <user>.{crt,key} to dir.
func run(dir, host string, users []string) error {
	ca, err := certgen.NewAuthority("Session Lock CA")
	if err != nil {
		return err
	}
	caPair, err := ca.PEM()
	if err != nil {
		return err
	}
	if err := caPair.Write(dir, "ca"); err != nil {
		return err
	}

	server, err := ca.IssueServer(host)
	if err != nil {
		return err
	}
	if err := server.Write(dir, "server"); err != nil {
		return err
	}

	for _, u := range users {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		client, err := ca.IssueClient(u)
		if err != nil {
			return fmt.Errorf("issue %s: %w", u, err)
		}
		if err := client.Write(dir, u); err != nil {
			return err
		}
	}
	return nil
}
