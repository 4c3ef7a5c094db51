// Command hashpw encodes a password in the keyed secret format, or checks a
// password against a stored secret of any supported format.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"labkeeper.org/internal/secret"
)

func main() {
	log.SetFlags(0)
	check := flag.String("check", "", "Stored secret to verify the password against")
	flag.Parse()

	password, err := readPassword(flag.Args())
	if err != nil {
		log.Fatalf("read password: %v", err)
	}

	if *check != "" {
		format := secret.Classify(*check, password)
		if format == secret.FormatNone {
			fmt.Println("no match")
			os.Exit(1)
		}
		fmt.Printf("match format=%s migrate=%t\n", format, format.Legacy())
		return
	}

	k, err := secret.Encode(password)
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Println(k.String())
}

// readPassword takes the first argument, prompts without echo on a terminal,
// or reads one line from piped stdin.
func readPassword(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
