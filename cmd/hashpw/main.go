// Command hashpw prints a bcrypt digest suitable for ADMIN_PASSWORD_HASH.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"alyanspace.org/adminauth/internal/auth"
)

func main() {
	log.SetFlags(0)
	cost := flag.Int("cost", auth.DefaultPasswordCost, "bcrypt cost")
	flag.Parse()

	password, err := readPassword()
	if err != nil {
		log.Fatalf("read password: %v", err)
	}
	if password == "" {
		log.Fatal("empty password")
	}
	hash, err := auth.HashPassword(password, *cost)
	if err != nil {
		log.Fatalf("hash: %v", err)
	}
	fmt.Println(hash)
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Confirm: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
