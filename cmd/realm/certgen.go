package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dcrodman/realm/internal/core/certs"
)

var certgenCmd = &cobra.Command{
	Use:   "certgen [host...]",
	Short: "Generates a self-signed certificate and key for TLS connections",
	Args:  cobra.MinimumNArgs(1),
	Run:   CertgenCommand,
}

var OutputFlag string

func CertgenCommand(cmd *cobra.Command, args []string) {
	certFile := filepath.Join(OutputFlag, certs.CertificateFilename)
	keyFile := filepath.Join(OutputFlag, certs.PrivateKeyFilename)

	if err := certs.WriteFiles(args, certFile, keyFile); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s and %s\n", certFile, keyFile)
	fmt.Printf(
		"Set networking.certificate_file and networking.key_file in the config file to\n"+
			"enable TLS and distribute %s to any clients or servers that connect.\n",
		certs.CertificateFilename,
	)
}
