package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	httpclient "federation-gateway/internal/common/http"
	"federation-gateway/internal/signature"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [url]",
		Short: "Send a signed federation request and print the response",
		Args:  cobra.ExactArgs(1),
		Example: `  fedsign send https://gateway.example/federation/escalation -X POST \
    -k partner-a -o org_1 -d '{"subject":"Checkout down","severity":"high"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString("method")
			keyID, _ := cmd.Flags().GetString("key-id")
			org, _ := cmd.Flags().GetString("org")
			data, _ := cmd.Flags().GetString("data")
			idemKey, _ := cmd.Flags().GetString("idempotency-key")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			secret, err := secretFlag(cmd)
			if err != nil {
				return err
			}

			body, err := readData(data)
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(method), args[0], bytes.NewReader(body))
			if err != nil {
				return err
			}
			if len(body) > 0 {
				req.Header.Set("Content-Type", "application/json")
			}
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				if idemKey == "" {
					idemKey = uuid.NewString()
				}
				req.Header.Set(signature.HeaderIdempotencyKey, idemKey)
			}
			signature.SignRequest(req, signature.Credentials{KeyID: keyID, Secret: secret, OrgID: org}, time.Now())

			// one request per run; redirects are reported, not followed
			client := httpclient.NewHTTPClient(httpclient.WithTimeout(timeout), httpclient.WithoutKeepAlives())
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", resp.Status)
			if id := resp.Header.Get("X-Correlation-Id"); id != "" {
				fmt.Fprintf(out, "X-Correlation-Id: %s\n", id)
			}
			if idemKey != "" {
				fmt.Fprintf(out, "Idempotency-Key: %s\n", idemKey)
			}
			fmt.Fprintln(out)
			if _, err := io.Copy(out, resp.Body); err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("request failed with status %d", resp.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().StringP("method", "X", "GET", "HTTP method")
	cmd.Flags().StringP("key-id", "k", "", "Signing key id")
	cmd.Flags().StringP("org", "o", "", "Calling organisation id")
	cmd.Flags().StringP("secret", "s", "", "Signing secret (default $FEDSIGN_SECRET)")
	cmd.Flags().StringP("data", "d", "", "Request body, or @file to read it from a file")
	cmd.Flags().String("idempotency-key", "", "Idempotency-Key for mutating requests (default random)")
	cmd.Flags().Duration("timeout", 30*time.Second, "Request timeout")
	_ = cmd.MarkFlagRequired("key-id")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func readData(data string) ([]byte, error) {
	if path, ok := strings.CutPrefix(data, "@"); ok {
		return os.ReadFile(path)
	}
	return []byte(data), nil
}
