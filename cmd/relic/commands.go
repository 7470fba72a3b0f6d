// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/relic-foundation/relic/lib/artifact"
)

func newFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	return flags
}

// --- init ---

func initCommand() *command {
	flags := newFlagSet("init")
	genKey := flags.Bool("gen-key", false, "generate an at-rest encryption key under the store root")

	return &command{
		name:    "init",
		summary: "Create the store directory layout",
		usage:   "relic init [--gen-key]",
		flags:   flags,
		run: func(env *environment, args []string) error {
			if err := env.cfg.EnsurePaths(); err != nil {
				return err
			}

			if *genKey {
				keyPath := filepath.Join(env.cfg.Store.Root, "master.key")
				if _, err := os.Stat(keyPath); err == nil {
					return fmt.Errorf("key file %s already exists", keyPath)
				}
				key := make([]byte, artifact.KeySize)
				if _, err := rand.Read(key); err != nil {
					return fmt.Errorf("generating key: %w", err)
				}
				if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
					return fmt.Errorf("writing key file: %w", err)
				}
				env.cfg.Store.EncryptionKeyFile = keyPath
				fmt.Printf("encryption key written to %s\n", keyPath)
			}

			// Opening the layer creates the payload directories and an
			// initial snapshot lock path.
			if _, err := openLayer(env); err != nil {
				return err
			}
			env.logger.Info("store initialized", "root", env.cfg.Store.Root)
			fmt.Printf("initialized store at %s\n", env.cfg.Store.Root)
			return nil
		},
	}
}

// --- add ---

func addCommand() *command {
	flags := newFlagSet("add")
	id := flags.String("id", "", "logical id (generated if omitted; single input only)")
	source := flags.String("source", "", "source metadata recorded on each document")
	parents := flags.StringArray("parent", nil, "parent artifact ref (repeatable)")
	meta := flags.StringArray("meta", nil, "metadata key=value (repeatable)")

	return &command{
		name:    "add",
		summary: "Store documents from files or stdin",
		usage:   "relic add [flags] <file|-> [file ...]",
		flags:   flags,
		run: func(env *environment, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("no input files given (use - for stdin)")
			}
			if *id != "" && len(args) > 1 {
				return fmt.Errorf("--id applies to a single input, got %d", len(args))
			}

			layer, err := openLayer(env)
			if err != nil {
				return err
			}

			parentHashes := make([]artifact.Hash, 0, len(*parents))
			for _, ref := range *parents {
				hash, err := layer.Resolve(ref)
				if err != nil {
					return fmt.Errorf("resolving parent %s: %w", ref, err)
				}
				parentHashes = append(parentHashes, hash)
			}

			metadata, err := parseMetadata(*meta)
			if err != nil {
				return err
			}

			documents := make([]artifact.Document, 0, len(args))
			for _, name := range args {
				content, sourceName, err := readInput(name)
				if err != nil {
					return err
				}

				docMeta := make(map[string]any, len(metadata)+1)
				for k, v := range metadata {
					docMeta[k] = v
				}
				switch {
				case *source != "":
					docMeta[artifact.MetaSource] = *source
				case sourceName != "":
					docMeta[artifact.MetaSource] = sourceName
				}

				documents = append(documents, artifact.Document{
					ID:           *id,
					ParentHashes: parentHashes,
					Metadata:     docMeta,
					Content:      content,
				})
			}

			if err := layer.Add(documents); err != nil {
				return err
			}
			for _, d := range documents {
				fmt.Printf("%s\t%s\n", artifact.FormatRef(d.Hash), d.ID)
			}
			return nil
		},
	}
}

// readInput reads one add input. "-" means stdin and carries no source
// name; a file path doubles as the default source metadata.
func readInput(name string) (content []byte, source string, err error) {
	if name == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("reading stdin: %w", err)
		}
		return content, "", nil
	}

	content, err = os.ReadFile(name)
	if err != nil {
		return nil, "", err
	}
	return content, name, nil
}

// parseMetadata parses repeated key=value flags into a metadata map.
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", pair)
		}
		metadata[key] = value
	}
	return metadata, nil
}

// --- cat ---

func catCommand() *command {
	flags := newFlagSet("cat")
	output := flags.StringP("output", "o", "", "write content to a file instead of stdout")

	return &command{
		name:    "cat",
		summary: "Print a document's content by ref or hash",
		usage:   "relic cat [-o file] <ref>",
		flags:   flags,
		run: func(env *environment, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("cat takes exactly one ref")
			}

			layer, err := openLayer(env)
			if err != nil {
				return err
			}
			hash, err := layer.Resolve(args[0])
			if err != nil {
				return err
			}
			doc, err := layer.Get(hash)
			if err != nil {
				return err
			}

			if *output != "" {
				return os.WriteFile(*output, doc.Content, 0o644)
			}
			_, err = os.Stdout.Write(doc.Content)
			return err
		},
	}
}

// --- exists ---

func existsCommand() *command {
	flags := newFlagSet("exists")
	quiet := flags.BoolP("quiet", "q", false, "no output, exit status only")

	return &command{
		name:    "exists",
		summary: "Check which logical ids have stored artifacts",
		usage:   "relic exists [-q] <id> [id ...]",
		flags:   flags,
		run: func(env *environment, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("no ids given")
			}

			layer, err := openLayer(env)
			if err != nil {
				return err
			}

			results := layer.Exists(args)
			allFound := true
			for i, found := range results {
				if !found {
					allFound = false
				}
				if !*quiet {
					fmt.Printf("%s\t%t\n", args[i], found)
				}
			}
			if !allFound {
				return fmt.Errorf("not all ids are stored")
			}
			return nil
		},
	}
}

// --- ls ---

func lsCommand() *command {
	flags := newFlagSet("ls")
	ids := flags.StringArray("id", nil, "match logical id (repeatable)")
	parents := flags.StringArray("parent", nil, "match parent ref (repeatable)")
	transformedBy := flags.String("transformed-by", "", "match transformer name")
	sourcePrefix := flags.String("source-prefix", "", "match source metadata prefix")
	since := flags.String("since", "", "stored after this RFC 3339 time (exclusive)")
	until := flags.String("until", "", "stored before this RFC 3339 time (exclusive)")
	all := flags.BoolP("all", "a", false, "list every stored artifact")

	return &command{
		name:    "ls",
		summary: "List stored artifacts matching a selector",
		usage:   "relic ls [flags]",
		flags:   flags,
		run: func(env *environment, args []string) error {
			layer, err := openLayer(env)
			if err != nil {
				return err
			}

			sel, err := buildSelector(layer, *ids, *parents, *transformedBy, *sourcePrefix, *since, *until)
			if err != nil {
				return err
			}
			if *all {
				// A match-everything selector: every stored artifact
				// was stored after the zero time.
				sel = artifact.Selector{StoredAfter: time.Unix(0, 0)}
			} else if sel.Empty() {
				return fmt.Errorf("no selector given (use --all to list everything)")
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "REF\tID\tSTORED\tTRANSFORMER\tSOURCE")
			for _, r := range layer.Records(sel) {
				transformer, _ := r.Metadata[artifact.MetaTransformer].(string)
				source, _ := r.Metadata[artifact.MetaSource].(string)
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
					artifact.FormatRef(r.Hash),
					r.ID,
					r.StoredAt.UTC().Format(time.RFC3339),
					transformer,
					source,
				)
			}
			return writer.Flush()
		},
	}
}

// buildSelector assembles a selector from the shared ls/rm flag values.
func buildSelector(layer *artifact.Layer, ids, parents []string, transformedBy, sourcePrefix, since, until string) (artifact.Selector, error) {
	var sel artifact.Selector

	if len(ids) > 0 {
		sel.IDs = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			sel.IDs[id] = struct{}{}
		}
	}

	if len(parents) > 0 {
		sel.ParentHashes = make(map[artifact.Hash]struct{}, len(parents))
		for _, ref := range parents {
			hash, err := layer.Resolve(ref)
			if err != nil {
				return artifact.Selector{}, fmt.Errorf("resolving parent %s: %w", ref, err)
			}
			sel.ParentHashes[hash] = struct{}{}
		}
	}

	sel.TransformedBy = transformedBy
	sel.SourcePrefix = sourcePrefix

	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return artifact.Selector{}, fmt.Errorf("parsing --since: %w", err)
		}
		sel.StoredAfter = t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return artifact.Selector{}, fmt.Errorf("parsing --until: %w", err)
		}
		sel.StoredBefore = t
	}

	return sel, nil
}

// --- rm ---

func rmCommand() *command {
	flags := newFlagSet("rm")
	ids := flags.StringArray("id", nil, "match logical id (repeatable)")
	refs := flags.StringArray("ref", nil, "match artifact ref (repeatable)")
	parents := flags.StringArray("parent", nil, "match parent ref (repeatable)")
	transformedBy := flags.String("transformed-by", "", "match transformer name")
	cascade := flags.Bool("cascade", false, "delete payload files too")

	return &command{
		name:    "rm",
		summary: "Remove artifacts matching a selector",
		usage:   "relic rm [flags]",
		flags:   flags,
		run: func(env *environment, args []string) error {
			layer, err := openLayer(env)
			if err != nil {
				return err
			}

			sel, err := buildSelector(layer, *ids, *parents, *transformedBy, "", "", "")
			if err != nil {
				return err
			}
			if len(*refs) > 0 {
				sel.Hashes = make(map[artifact.Hash]struct{}, len(*refs))
				for _, ref := range *refs {
					hash, err := layer.Resolve(ref)
					if err != nil {
						return fmt.Errorf("resolving %s: %w", ref, err)
					}
					sel.Hashes[hash] = struct{}{}
				}
			}
			if sel.Empty() {
				return fmt.Errorf("no selector given; refusing to remove nothing")
			}

			removed, err := layer.Remove(sel, *cascade)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d artifact(s)\n", removed)
			return nil
		},
	}
}

// --- gc ---

func gcCommand() *command {
	flags := newFlagSet("gc")

	return &command{
		name:    "gc",
		summary: "Delete payload files no longer referenced by the index",
		usage:   "relic gc",
		flags:   flags,
		run: func(env *environment, args []string) error {
			layer, err := openLayer(env)
			if err != nil {
				return err
			}

			reclaimed, err := layer.SweepOrphans()
			if err != nil {
				return err
			}
			for _, hash := range reclaimed {
				env.logger.Info("reclaimed orphan payload", "ref", artifact.FormatRef(hash))
			}
			fmt.Printf("reclaimed %d orphan payload(s)\n", len(reclaimed))
			return nil
		},
	}
}

// --- stats ---

func statsCommand() *command {
	flags := newFlagSet("stats")

	return &command{
		name:    "stats",
		summary: "Show store statistics",
		usage:   "relic stats",
		flags:   flags,
		run: func(env *environment, args []string) error {
			layer, err := openLayer(env)
			if err != nil {
				return err
			}

			stats := layer.Stats()
			fmt.Printf("artifacts: %d\n", stats.Total)
			if bytes, err := layer.DiskUsage(); err == nil {
				fmt.Printf("payload bytes: %d\n", bytes)
			}
			if len(stats.ByTransformer) > 0 {
				names := make([]string, 0, len(stats.ByTransformer))
				for name := range stats.ByTransformer {
					names = append(names, name)
				}
				sort.Strings(names)

				fmt.Println("by transformer:")
				writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				for _, name := range names {
					fmt.Fprintf(writer, "  %s\t%d\n", name, stats.ByTransformer[name])
				}
				if err := writer.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
