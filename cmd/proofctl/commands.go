package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/chainsafe/docproof/pkg/commitment"
	"github.com/chainsafe/docproof/pkg/engine"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/keys"
)

var errNoFiles = errors.New("at least one file is required")

func fingerprintCommand() *cli.Command {
	return &cli.Command{
		Name:      "fingerprint",
		Usage:     "fingerprint one file, or several files as one bundle",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "algorithm", Usage: "sha256, sha512 or sha3-256 (default from config)"},
			&cli.StringFlag{Name: "description", Usage: "bundle description mixed into the merged fingerprint"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			files, err := readFiles(c.Args().Slice())
			if err != nil {
				return err
			}

			fp := rt.fingerprinter
			if a := c.String("algorithm"); a != "" {
				if fp, err = fingerprint.New(fingerprint.WithAlgorithm(fingerprint.Algorithm(a))); err != nil {
					return err
				}
			}

			data := make([][]byte, len(files))
			for i, f := range files {
				data[i] = f.Data
			}
			fps, err := fp.FingerprintMany(data)
			if err != nil {
				return err
			}

			out := struct {
				Files  []*fingerprint.Fingerprint `json:"files"`
				Bundle *fingerprint.Fingerprint   `json:"bundle,omitempty"`
			}{Files: fps}
			if len(fps) > 1 {
				if out.Bundle, err = fp.MergeFingerprints(fps, c.String("description")); err != nil {
					return err
				}
			}
			return render(c, out)
		},
	}
}

func commitCommand() *cli.Command {
	return &cli.Command{
		Name:      "commit",
		Usage:     "commit to a file and prove knowledge of the opening",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "system", Usage: "proof system (default from config)"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			files, err := readFiles(c.Args().Slice())
			if err != nil {
				return err
			}
			if len(files) != 1 {
				return fmt.Errorf("commit takes exactly one file, got %d", len(files))
			}

			system := rt.cfg.Proof.ProofSystem()
			if s := c.String("system"); s != "" {
				system = commitment.System(s)
			}
			scheme, err := commitment.SchemeFor(system)
			if err != nil {
				return err
			}

			fp, err := rt.fingerprinter.Fingerprint(files[0].Data)
			if err != nil {
				return err
			}
			com, err := commitment.Commit(fp, scheme)
			if err != nil {
				return err
			}
			proof, err := commitment.Prove(fp, com, system)
			if err != nil {
				return err
			}

			return render(c, struct {
				Fingerprint *fingerprint.Fingerprint `json:"fingerprint"`
				Commitment  *commitment.Commitment   `json:"commitment"`
				Opening     string                   `json:"opening"`
				Proof       *commitment.Proof        `json:"proof"`
				ProofValid  bool                     `json:"proof_valid"`
			}{
				Fingerprint: fp,
				Commitment:  com.Public(),
				Opening:     hex.EncodeToString(com.Randomness),
				Proof:       proof,
				ProofValid:  commitment.VerifyProof(proof, com.Public()),
			})
		},
	}
}

func identityCommand() *cli.Command {
	return &cli.Command{
		Name:  "identity",
		Usage: "manage sovereign identities",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "generate a key pair and its DID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key-type", Usage: "ed25519 or secp256k1 (default from config)"},
					&cli.StringFlag{Name: "method", Usage: "DID method (default from config)"},
					&cli.StringSliceFlag{Name: "credential-type", Usage: "credential types the identity holds"},
					&cli.BoolFlag{Name: "export-private-key", Usage: "include the hex private key in the output"},
				},
				Action: func(c *cli.Context) error {
					rt, err := newRuntime(c)
					if err != nil {
						return err
					}
					ident, err := rt.identities.CreateIdentity(c.Context, identity.Config{
						Method:          c.String("method"),
						KeyType:         keys.KeyType(c.String("key-type")),
						CredentialTypes: c.StringSlice("credential-type"),
					})
					if err != nil {
						return err
					}

					out := struct {
						Identity   *identity.Identity `json:"identity"`
						PrivateKey string             `json:"private_key,omitempty"`
					}{Identity: ident.Public()}
					if c.Bool("export-private-key") {
						out.PrivateKey = hex.EncodeToString(ident.PrivateKey)
					}
					return render(c, out)
				},
			},
		},
	}
}

func packageCommand() *cli.Command {
	return &cli.Command{
		Name:      "package",
		Usage:     "create a proof record and print its offline verification payload",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "package an existing record instead of creating one"},
			&cli.StringFlag{Name: "db", Usage: "SQLite record database (default from config)"},
			&cli.StringFlag{Name: "anchor", Usage: "primary anchor network", Value: defaultNetwork},
			&cli.StringFlag{Name: "secondary-anchor", Usage: "secondary anchor network"},
			&cli.BoolFlag{Name: "require-both", Usage: "require both anchors for consensus"},
			&cli.BoolFlag{Name: "zk", Usage: "generate a commitment proof"},
			&cli.BoolFlag{Name: "sign", Usage: "sign with a freshly generated identity"},
			&cli.StringFlag{Name: "description", Usage: "record description"},
			&cli.StringFlag{Name: "out", Usage: "write the payload to this file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			svc, closeStore, err := rt.proofService(c.String("db"))
			if err != nil {
				return err
			}
			defer closeStore()

			var id uuid.UUID
			if raw := c.String("id"); raw != "" {
				if id, err = uuid.Parse(raw); err != nil {
					return fmt.Errorf("invalid record id: %w", err)
				}
			} else {
				files, err := readFiles(c.Args().Slice())
				if err != nil {
					return err
				}
				req := &engine.Request{
					Files:            files,
					Description:      c.String("description"),
					GenerateProof:    c.Bool("zk"),
					PrimaryNetwork:   c.String("anchor"),
					SecondaryNetwork: c.String("secondary-anchor"),
					RequireBoth:      c.Bool("require-both"),
				}
				if c.Bool("sign") {
					signer, err := rt.identities.CreateIdentity(c.Context, identity.Config{})
					if err != nil {
						return err
					}
					req.SignerDID = signer.DID
				}
				rec, err := svc.Submit(c.Context, req)
				if err != nil {
					return err
				}
				id = rec.ID
			}

			payload, err := svc.OfflinePackage(c.Context, id)
			if err != nil {
				return err
			}
			if out := c.String("out"); out != "" {
				if err := os.WriteFile(out, payload, 0o644); err != nil {
					return err
				}
				rec, err := svc.GetRecord(c.Context, id)
				if err != nil {
					return err
				}
				return render(c, rec)
			}
			_, err = fmt.Fprintln(c.App.Writer, string(payload))
			return err
		},
	}
}

func verifyOfflineCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify-offline",
		Usage:     "verify an offline payload without contacting any network",
		ArgsUsage: "PAYLOAD_FILE|-",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "challenge", Usage: "document to check against the payload fingerprint"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			if c.NArg() != 1 {
				return errors.New("verify-offline takes one payload file, or - for stdin")
			}

			var payload []byte
			if name := c.Args().First(); name == "-" {
				payload, err = io.ReadAll(c.App.Reader)
			} else {
				payload, err = os.ReadFile(name)
			}
			if err != nil {
				return err
			}

			var challenge []byte
			if path := c.String("challenge"); path != "" {
				if challenge, err = os.ReadFile(path); err != nil {
					return err
				}
			}

			res, err := rt.verifier.Verify(c.Context, payload, challenge)
			if err != nil {
				return err
			}
			return render(c, res)
		},
	}
}

func readFiles(paths []string) ([]engine.File, error) {
	if len(paths) == 0 {
		return nil, errNoFiles
	}
	files := make([]engine.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, engine.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}
