package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatewaykit/fondy/signature"
)

func newSignCmd(v *viper.Viper) *cobra.Command {
	var fromJSON bool
	cmd := &cobra.Command{
		Use:   "sign [key=value ...]",
		Short: "Print the gateway signature for a parameter set",
		Long: `Signs the given parameters with MERCHANT_PASSWORD (or --secret) and prints the
digest. With --json the parameters are read as a JSON object from stdin and
non-scalar values are skipped, exactly as the gateway does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := v.GetString("MERCHANT_PASSWORD")
			if secret == "" {
				return fmt.Errorf("a merchant password is required (--secret or MERCHANT_PASSWORD)")
			}
			digest, err := signArgs(secret, args, fromJSON, cmd.InOrStdin())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
	cmd.Flags().String("secret", "", "merchant password used as the signing secret")
	cmd.Flags().BoolVar(&fromJSON, "json", false, "read parameters as a JSON object from stdin")
	_ = v.BindPFlag("MERCHANT_PASSWORD", cmd.Flags().Lookup("secret"))
	_ = v.BindEnv("MERCHANT_PASSWORD")
	return cmd
}

func signArgs(secret string, args []string, fromJSON bool, stdin io.Reader) (string, error) {
	if fromJSON {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return signature.SignJSON(secret, raw)
	}
	var params signature.Params
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return "", fmt.Errorf("argument %q is not key=value", arg)
		}
		params.Set(key, signature.String(value))
	}
	return signature.Sign(secret, params), nil
}
