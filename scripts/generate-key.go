// Package main is a development utility for generating keygate secrets: a
// license key in the KG-XXXX format, an admin token with its bcrypt hash, and
// a ready-to-run SQL INSERT so developers can quickly seed a usable license in
// a local database without running the full server flow. Do not use generated
// values in production — provision licenses through the admin API and manage
// the admin token hash as a deployment secret.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// License key: same format the admin Provision endpoint generates
	licenseKey := "KG-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))

	// Admin token: 32 random bytes, base64url-encoded
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatal(err)
	}
	adminToken := "kg_admin_" + base64.RawURLEncoding.EncodeToString(randomBytes)

	// Only the bcrypt hash of the admin token is ever configured on the server
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(adminToken), 10)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Keygate Dev Secrets Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nLicense Key: %s\n", licenseKey)
	fmt.Printf("\nAdmin Token: %s\n", adminToken)
	fmt.Printf("\nAdmin Token Hash: %s\n", string(hashBytes))
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Insert:")
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO licenses (license_key, credits_remaining)
VALUES ('%s', 100);
`, licenseKey)
	fmt.Println("\n==========================================================")
	fmt.Printf("Server Environment:  KG_ADMIN_TOKEN_HASH='%s'\n", string(hashBytes))
	fmt.Printf("Admin Header:        Authorization: Bearer %s\n", adminToken)
	fmt.Println("==========================================================")
}
