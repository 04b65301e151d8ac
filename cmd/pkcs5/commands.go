package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pkcs5/internal/crypto"
	"pkcs5/pkg/byteutil"
	"pkcs5/pkg/pkcs5"
)

// passwordEnv is consulted when --password is not given
const passwordEnv = "PKCS5_PASSWORD"

// HMAC-RIPEMD-160 test vector published with TruPax
var (
	vectorSalt       = []byte{0x12, 0x34, 0x56, 0x78}
	vectorKey        = []byte{0x7a, 0x3d, 0x7c, 0x03}
	vectorPassword   = "password"
	vectorIterations = 5
)

var errVectorMismatch = errors.New("derived key does not match test vector")

func newVectorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vector",
		Short: "Derive the HMAC-RIPEMD-160 test vector and compare",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVector(cmd.OutOrStdout())
		},
	}
}

func runVector(out io.Writer) error {
	fmt.Fprintln(out, "=================================")
	fmt.Fprintln(out, "Test vector")
	fmt.Fprintln(out, "=================================")
	fmt.Fprintf(out, "Salt        (hex): %s\n", byteutil.BytesToHex(vectorSalt))
	fmt.Fprintf(out, "Derived key (hex): %s\n", byteutil.BytesToHex(vectorKey))
	fmt.Fprintf(out, "Password:          %s\n", vectorPassword)
	fmt.Fprintf(out, "Iterations:        %d\n", vectorIterations)

	kdf, err := pkcs5.NewWithSalt(pkcs5.HMACRIPEMD160, vectorSalt)
	if err != nil {
		return err
	}
	defer kdf.Destroy()

	key, err := kdf.DeriveKeyLen(vectorPassword, vectorIterations, len(vectorKey))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "PRF:               %s\n", kdf.PRFName())
	fmt.Fprintln(out, "=================================")
	fmt.Fprintln(out, "Result")
	fmt.Fprintln(out, "=================================")
	fmt.Fprintf(out, "Derived key (hex): %s\n", byteutil.BytesToHex(key))

	if !bytes.Equal(vectorKey, key) {
		fmt.Fprintln(out, "Derived key does not match test vector.")
		return errVectorMismatch
	}
	fmt.Fprintln(out, "Derived key matches test vector.")
	return nil
}

type deriveOptions struct {
	profile    string
	prf        string
	iterations int
	length     int
	salt       string
	password   string
}

func newDeriveCmd() *cobra.Command {
	opts := &deriveOptions{}
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a key from a password",
		Long: `Derive a key with PBKDF2. Parameters come from the selected profile and
may be overridden by flags. Without a salt a random one of the PRF output
size is generated and printed. The password is read from --password, the
` + passwordEnv + ` environment variable, or the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDerive(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.profile, "profile", "", "Configuration profile")
	cmd.Flags().StringVar(&opts.prf, "prf", "", "PRF (HMAC-SHA256, HMAC-SHA512, HMAC-RIPEMD160, HMAC-Whirlpool)")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 0, "Iteration count")
	cmd.Flags().IntVar(&opts.length, "length", 0, "Derived key length in bytes (default: profile key length)")
	cmd.Flags().StringVar(&opts.salt, "salt", "", "Salt, hex encoded")
	cmd.Flags().StringVar(&opts.password, "password", "", "Password")
	return cmd
}

func runDerive(cmd *cobra.Command, opts *deriveOptions) error {
	profile, err := cfg.Profile(opts.profile)
	if err != nil {
		return err
	}

	prfName := profile.PRF
	if opts.prf != "" {
		prfName = opts.prf
	}
	prf, err := pkcs5.ParsePRF(prfName)
	if err != nil {
		return err
	}

	iterations := profile.Iterations
	if cmd.Flags().Changed("iterations") {
		iterations = opts.iterations
	}
	length := profile.KeyLength
	if cmd.Flags().Changed("length") {
		length = opts.length
	}

	saltHex := profile.Salt
	if opts.salt != "" {
		saltHex = opts.salt
	}

	var kdf *pkcs5.PBKDF2
	if saltHex != "" {
		salt, err := byteutil.HexToBytes(saltHex)
		if err != nil {
			return err
		}
		kdf, err = pkcs5.NewWithSalt(prf, salt)
		if err != nil {
			return err
		}
	} else {
		kdf, err = pkcs5.New(prf)
		if err != nil {
			return err
		}
	}
	defer kdf.Destroy()

	password, err := readPassword(cmd.InOrStdin(), opts.password)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"profile":    profile.Name,
		"prf":        kdf.PRFName(),
		"iterations": iterations,
		"length":     length,
	}).Info("Deriving key")

	key, err := kdf.DeriveKeyLen(password, iterations, length)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "PRF:        %s\n", kdf.PRFName())
	fmt.Fprintf(out, "Iterations: %d\n", iterations)
	fmt.Fprintf(out, "Salt:       %s\n", byteutil.BytesToHex(kdf.Salt()))
	fmt.Fprintf(out, "Key:        %s\n", byteutil.BytesToHex(key))
	fmt.Fprintf(out, "Key size:   %s\n", byteutil.HumanReadableByteCount(int64(len(key))))
	return nil
}

type sealOptions struct {
	profile  string
	in       string
	out      string
	password string
}

func (o *sealOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.in, "in", "", "Input file")
	cmd.Flags().StringVar(&o.out, "out", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&o.password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("in")
}

func newSealCmd() *cobra.Command {
	opts := &sealOptions{}
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a file under a password-derived key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := cfg.Profile(opts.profile)
			if err != nil {
				return err
			}
			params, err := profile.Params()
			if err != nil {
				return err
			}
			return transform(cmd, opts, func(sealer *crypto.PasswordSealer, password string, data []byte) ([]byte, error) {
				return sealer.Seal(password, params, data)
			})
		},
	}
	cmd.Flags().StringVar(&opts.profile, "profile", "", "Configuration profile")
	opts.register(cmd)
	return cmd
}

func newOpenCmd() *cobra.Command {
	opts := &sealOptions{}
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Decrypt a file sealed with seal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return transform(cmd, opts, func(sealer *crypto.PasswordSealer, password string, data []byte) ([]byte, error) {
				return sealer.Open(password, data)
			})
		},
	}
	opts.register(cmd)
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show the derivation parameters of a sealed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			info, err := crypto.NewPasswordSealer().Inspect(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Algorithm:  %s\n", info.Algorithm)
			fmt.Fprintf(out, "PRF:        %s\n", info.PRF)
			fmt.Fprintf(out, "Iterations: %d\n", info.Iterations)
			fmt.Fprintf(out, "Salt:       %s\n", info.Salt)
			fmt.Fprintf(out, "Version:    %d\n", info.Version)
			fmt.Fprintf(out, "Content:    %s\n", byteutil.HumanReadableByteCount(int64(info.ContentSize)))
			return nil
		},
	}
}

type transformFunc func(sealer *crypto.PasswordSealer, password string, data []byte) ([]byte, error)

func transform(cmd *cobra.Command, opts *sealOptions, fn transformFunc) error {
	data, err := os.ReadFile(opts.in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.in, err)
	}

	password, err := readPassword(cmd.InOrStdin(), opts.password)
	if err != nil {
		return err
	}

	result, err := fn(crypto.NewPasswordSealer(), password, data)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"command": cmd.Name(),
		"in":      opts.in,
		"size":    byteutil.HumanReadableByteCount(int64(len(result))),
	}).Info("Done")

	if opts.out == "" {
		_, err = cmd.OutOrStdout().Write(result)
		return err
	}
	if err := os.WriteFile(opts.out, result, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.out, err)
	}
	return nil
}

// readPassword prefers the flag, then the environment, then one line of r
func readPassword(r io.Reader, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(passwordEnv); env != "" {
		return env, nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password given")
	}
	return line, nil
}
