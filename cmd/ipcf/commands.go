package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/config"
	"github.com/wippyai/irm-fileapi/fileapi"
)

func (a *app) encryptCmd() *cobra.Command {
	var (
		template  string
		outputDir string
		flagNames []string
		out       string
	)

	cmd := &cobra.Command{
		Use:   "encrypt FILE...",
		Short: "Protect files under a template",
		Long: `Protect one or more files under a rights-management template.

The template defaults to protect.template from the config file. With --out a
single file is protected through the stream interface and the result is
written to the given path instead of next to the input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			license, err := a.templateLicense(template)
			if err != nil {
				return err
			}
			flags, err := a.encryptFlags(flagNames)
			if err != nil {
				return err
			}
			opts := a.callOptions(outputDir)

			return a.withAdapter(cmd.Context(), func(ad *fileapi.Adapter) error {
				if out != "" {
					if len(args) != 1 {
						return fmt.Errorf("--out takes exactly one input file")
					}
					name, err := encryptToFile(cmd.Context(), ad, args[0], out, license, flags, opts.Prompt)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", args[0], out, name)
					return nil
				}
				return a.each(cmd, args, func(path string) error {
					name, err := ad.EncryptFile(cmd.Context(), path, license, flags, opts)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", path, name)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "template id (GUID)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for protected files")
	cmd.Flags().StringSliceVar(&flagNames, "flag", nil, "encrypt flag (update-license-blocked, key-no-persist, key-no-persist-disk, key-no-persist-license)")
	cmd.Flags().StringVar(&out, "out", "", "write the protected content of a single file to this path")
	return cmd
}

func (a *app) decryptCmd() *cobra.Command {
	var (
		outputDir string
		rmsAware  bool
		out       string
	)

	cmd := &cobra.Command{
		Use:   "decrypt FILE...",
		Short: "Remove protection from files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := a.cfg.DecryptFlags()
			if rmsAware {
				flags |= ipcf.DecryptFlagOpenAsRMSAware
			}
			opts := a.callOptions(outputDir)

			return a.withAdapter(cmd.Context(), func(ad *fileapi.Adapter) error {
				if out != "" {
					if len(args) != 1 {
						return fmt.Errorf("--out takes exactly one input file")
					}
					name, err := decryptToFile(cmd.Context(), ad, args[0], out, flags, opts.Prompt)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", args[0], out, name)
					return nil
				}
				return a.each(cmd, args, func(path string) error {
					name, err := ad.DecryptFile(cmd.Context(), path, flags, opts)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", path, name)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for decrypted files")
	cmd.Flags().BoolVar(&rmsAware, "rms-aware", false, "open as an RMS-aware application")
	cmd.Flags().StringVar(&out, "out", "", "write the decrypted content of a single file to this path")
	return cmd
}

func (a *app) licenseCmd() *cobra.Command {
	var (
		out    string
		stream bool
	)

	cmd := &cobra.Command{
		Use:   "license FILE",
		Short: "Extract the serialized license of a protected file",
		Long: `Extract the serialized license embedded in a protected file.

The license is printed as base64 unless --out names a file to receive the
raw bytes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			return a.withAdapter(cmd.Context(), func(ad *fileapi.Adapter) error {
				var (
					lic []byte
					err error
				)
				if stream {
					lic, err = withInput(path, func(f *os.File) ([]byte, error) {
						return ad.SerializedLicenseFromStream(cmd.Context(), f, path)
					})
				} else {
					lic, err = ad.SerializedLicenseFromFile(cmd.Context(), path)
				}
				if err != nil {
					return err
				}
				if out != "" {
					return os.WriteFile(out, lic, 0o600)
				}
				fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(lic))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "write the raw license to this path")
	cmd.Flags().BoolVar(&stream, "stream", false, "read the file through the stream interface")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:     "status FILE...",
		Short:   "Report the protection status of files",
		Aliases: []string{"stat"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdapter(cmd.Context(), func(ad *fileapi.Adapter) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				err := a.each(cmd, args, func(path string) error {
					status, err := queryStatus(cmd.Context(), ad, path, stream)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "%s\t%s\n", status, path)
					return nil
				})
				if ferr := tw.Flush(); err == nil {
					err = ferr
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "read files through the stream interface")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfgFile
			if path == "" {
				p, err := config.Path()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists, use --force to overwrite", path)
			}
			if err := config.Save(a.cfg, path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.Encode(cmd.OutOrStdout(), a.cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

// each runs fn for every path, logging failures and continuing. It returns
// the first error along with a count when any path failed.
func (a *app) each(cmd *cobra.Command, paths []string, fn func(path string) error) error {
	var (
		first  error
		failed int
	)
	for _, path := range paths {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		if err := fn(path); err != nil {
			a.logger.Warn("file failed", zap.String("path", path), zap.Error(err))
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			if first == nil {
				first = err
			}
			failed++
		}
	}
	if failed > 1 {
		return fmt.Errorf("%d of %d files failed: %w", failed, len(paths), first)
	}
	return first
}

func (a *app) templateLicense(flagValue string) (ipcf.License, error) {
	if flagValue == "" {
		if lic := a.cfg.Template(); lic != nil {
			return lic, nil
		}
		return nil, fmt.Errorf("no template: pass --template or set protect.template")
	}
	if _, err := uuid.Parse(flagValue); err != nil {
		return nil, fmt.Errorf("template %q is not a GUID: %w", flagValue, err)
	}
	return ipcf.TemplateID(flagValue), nil
}

func (a *app) encryptFlags(names []string) (ipcf.EncryptFlags, error) {
	flags, err := a.cfg.EncryptFlags()
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		f, ok := ipcf.ParseEncryptFlag(name)
		if !ok {
			return 0, fmt.Errorf("unknown encrypt flag %q", name)
		}
		flags |= f
	}
	return flags, nil
}

func (a *app) callOptions(outputDir string) fileapi.Options {
	if outputDir == "" {
		outputDir = a.cfg.Protect.OutputDir
	}
	return fileapi.Options{
		OutputDir: outputDir,
		Prompt:    a.cfg.PromptParams(),
	}
}

func queryStatus(ctx context.Context, ad *fileapi.Adapter, path string, stream bool) (string, error) {
	if !stream {
		st, err := ad.FileStatus(ctx, path)
		if err != nil {
			return "", err
		}
		return st.String(), nil
	}
	enc, err := withInput(path, func(f *os.File) (bool, error) {
		return ad.IsStreamEncrypted(ctx, f, path)
	})
	if err != nil {
		return "", err
	}
	if enc {
		return ipcf.FileStatusEncrypted.String(), nil
	}
	return ipcf.FileStatusDecrypted.String(), nil
}

func encryptToFile(ctx context.Context, ad *fileapi.Adapter, in, out string, license ipcf.License, flags ipcf.EncryptFlags, prompt ipcf.PromptParams) (string, error) {
	return withOutput(in, out, func(src, dst *os.File) (string, error) {
		return ad.EncryptStream(ctx, src, in, license, flags, prompt, dst)
	})
}

func decryptToFile(ctx context.Context, ad *fileapi.Adapter, in, out string, flags ipcf.DecryptFlags, prompt ipcf.PromptParams) (string, error) {
	return withOutput(in, out, func(src, dst *os.File) (string, error) {
		return ad.DecryptStream(ctx, src, in, flags, prompt, dst)
	})
}

func withInput[T any](path string, fn func(*os.File) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return fn(f)
}

// withOutput removes out again if fn fails.
func withOutput(in, out string, fn func(src, dst *os.File) (string, error)) (string, error) {
	src, err := os.Open(in)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.OpenFile(out, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	name, err := fn(src, dst)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		return "", err
	}
	return name, nil
}
