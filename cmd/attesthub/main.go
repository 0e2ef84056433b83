package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scrtlabs/attesthub/internal/hubclient"
	"github.com/scrtlabs/attesthub/internal/proof"
	"github.com/scrtlabs/attesthub/internal/redact"
	"github.com/scrtlabs/attesthub/internal/version"
	"github.com/spf13/cobra"
)

// resolveServerURL returns the hub URL from the flag or ATTESTHUB_SERVER_URL.
// Prints a warning to stderr when falling back to the env var.
func resolveServerURL(cmd *cobra.Command, flagValue string) (string, error) {
	normalize := func(v string) string {
		return strings.TrimRight(v, "/")
	}
	if cmd.Flags().Changed("server") {
		return normalize(flagValue), nil
	}
	if v := os.Getenv("ATTESTHUB_SERVER_URL"); v != "" {
		fmt.Fprintf(os.Stderr, "attesthub: WARNING: using server URL from ATTESTHUB_SERVER_URL environment variable\n")
		return normalize(v), nil
	}
	return "", fmt.Errorf("server URL required: use --server flag or set ATTESTHUB_SERVER_URL")
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "attesthub",
		Short:   "attesthub - dual-VM attestation verification and proof tooling",
		Version: version.Version,
	}
	rootCmd.SetVersionTemplate(version.String("attesthub") + "\n")

	rootCmd.AddCommand(newAttestCmd())
	rootCmd.AddCommand(newDualCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newProofCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newAttestCmd() *cobra.Command {
	var (
		serverURL string
		insecure  bool
	)
	cmd := &cobra.Command{
		Use:   "attest <vm>",
		Short: "Fetch and validate the attestation of one VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			c, err := hubclient.New(resolved, insecure)
			if err != nil {
				return err
			}
			resp, err := c.Attestation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Hub URL (or set ATTESTHUB_SERVER_URL)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Allow plaintext HTTP connection to the hub")
	return cmd
}

func newDualCmd() *cobra.Command {
	var (
		serverURL string
		insecure  bool
	)
	cmd := &cobra.Command{
		Use:   "dual",
		Short: "Run a dual attestation of both configured VMs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			c, err := hubclient.New(resolved, insecure)
			if err != nil {
				return err
			}
			res, err := c.Dual(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.OverallVerified {
				return fmt.Errorf("dual attestation not verified")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Hub URL (or set ATTESTHUB_SERVER_URL)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Allow plaintext HTTP connection to the hub")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		serverURL string
		insecure  bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show hub health and per-VM verification history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			c, err := hubclient.New(resolved, insecure)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Hub URL (or set ATTESTHUB_SERVER_URL)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Allow plaintext HTTP connection to the hub")
	return cmd
}

func newProofCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Generate and verify encrypted proof artifacts",
	}
	cmd.AddCommand(newProofGenerateCmd())
	cmd.AddCommand(newProofVerifyCmd())
	return cmd
}

func newProofGenerateCmd() *cobra.Command {
	var (
		serverURL string
		insecure  bool
		question  string
		answer    string
		password  string
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Seal a conversation plus a fresh dual attestation into an artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			resolved, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			c, err := hubclient.New(resolved, insecure)
			if err != nil {
				return err
			}

			// Anything echoed from here on may quote request details;
			// never let the password through.
			out := redact.NewWriter(os.Stdout, []string{password})
			defer out.Flush()

			now := time.Now().UTC()
			transcript := []proof.Message{
				{Role: "user", Content: question, Timestamp: now},
				{Role: "assistant", Content: answer, Timestamp: now},
			}
			name, artifact, err := c.GenerateProof(cmd.Context(), transcript, password)
			if err != nil {
				return err
			}

			if outPath == "" {
				outPath = name
			}
			if err := os.WriteFile(outPath, artifact, 0o600); err != nil {
				return fmt.Errorf("write artifact: %w", err)
			}
			fmt.Fprintf(out, "proof written to %s (%d bytes)\n", filepath.Clean(outPath), len(artifact))
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Hub URL (or set ATTESTHUB_SERVER_URL)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Allow plaintext HTTP connection to the hub")
	cmd.Flags().StringVar(&question, "question", "", "User question to include in the transcript")
	cmd.Flags().StringVar(&answer, "answer", "", "Assistant answer to include in the transcript")
	cmd.Flags().StringVar(&password, "password", "", "Encryption password (min length enforced server-side)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output path (default: server-suggested filename)")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}

func newProofVerifyCmd() *cobra.Command {
	var (
		serverURL string
		insecure  bool
		password  string
		local     bool
	)
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify a proof artifact",
		Long: `Verify a .attestproof artifact. By default the artifact is uploaded to the
hub; with --local it is decrypted and checked entirely offline.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			artifact, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read artifact: %w", err)
			}

			out := redact.NewWriter(os.Stdout, []string{password})
			defer out.Flush()

			if local {
				return verifyLocal(out, artifact, password)
			}

			resolved, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			c, err := hubclient.New(resolved, insecure)
			if err != nil {
				return err
			}
			res, err := c.VerifyProof(cmd.Context(), artifact, password)
			if err != nil {
				return err
			}
			if !res.Verified {
				fmt.Fprintf(out, "NOT VERIFIED: %s\n", res.Error)
				return fmt.Errorf("proof verification failed")
			}
			return printPayload(out, res.ProofData)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Hub URL (or set ATTESTHUB_SERVER_URL)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Allow plaintext HTTP connection to the hub")
	cmd.Flags().StringVar(&password, "password", "", "Decryption password")
	cmd.Flags().BoolVar(&local, "local", false, "Verify offline without contacting the hub")
	return cmd
}

func verifyLocal(out *redact.Writer, artifact []byte, password string) error {
	engine := proof.NewEngine(0, 0)
	payload, err := engine.Verify(artifact, password)
	if err != nil {
		fmt.Fprintf(out, "NOT VERIFIED: %v\n", err)
		return fmt.Errorf("proof verification failed")
	}
	return printPayload(out, payload)
}

func printPayload(out *redact.Writer, p *proof.Payload) error {
	fmt.Fprintln(out, "VERIFIED")
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
