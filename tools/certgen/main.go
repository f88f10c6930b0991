// Package main generates a development CA and a server certificate for the
// StudyDeck server, writing them under the "certs" directory.
//
// Usage:
//
//	go run ./tools/certgen -dir certs -hosts localhost,127.0.0.1
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atinyakov/studydeck/internal/certgen"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := fs.String("dir", "certs", "output directory")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "comma-separated DNS names and IPs of the server")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var names []string
	for _, h := range strings.Split(*hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			names = append(names, h)
		}
	}

	files, err := certgen.WriteDevCertificates(*dir, names)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Certificates written to %s\n\n", *dir)
	fmt.Fprintf(out, "Server:  TLS_CERT_FILE=%s TLS_KEY_FILE=%s\n", files.ServerCert, files.ServerKey)
	fmt.Fprintf(out, "Client:  CLIENT_CA_FILE=%s\n", files.CACert)
	return nil
}
