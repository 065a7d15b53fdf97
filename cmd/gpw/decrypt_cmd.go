package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/notification"
)

// runDecryptCmd implements `gpw decrypt`.
//
// Reads one envelope as JSON from --file or stdin and prints the decoded
// notification. Exit 1 when the envelope cannot be decoded.
func runDecryptCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decrypt", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var file, secret, device string
	cmd.StringVar(&file, "file", "-", "Envelope JSON file, - for stdin")
	cmd.StringVar(&secret, "secret", os.Getenv("GPW_DEVICE_SECRET"), "Device secret for sealed envelopes")
	cmd.StringVar(&device, "device", os.Getenv("GPW_DEVICE_ID"), "Device id bound into the sealed key")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read envelope: %v\n", err)
		return 1
	}

	var opts []notification.DecryptorOption
	if secret != "" {
		opener, err := notification.NewSealedOpener([]byte(secret), device)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		opts = append(opts, notification.WithOpener(opener))
	}
	d, err := notification.NewDecryptor(opts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	push, err := notification.ParseEnvelope(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	n, err := d.Decrypt(push)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return writeJSON(stdout, stderr, n)
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
