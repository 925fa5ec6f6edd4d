package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"docqa/internal/config"
	"docqa/internal/helper"
	"docqa/internal/models"
)

var reindex bool

func init() {
	askCmd.Flags().BoolVar(&reindex, "reindex", false, "Ingest the document even if an indexed copy exists")
	chatCmd.Flags().BoolVar(&reindex, "reindex", false, "Ingest the document even if an indexed copy exists")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Load, chunk, embed and index a document",
	Long: `Index a document so questions can be asked about it.

Supported formats: .pdf .txt .md .docx .pptx .xlsx .xlsm .xltx .xltm

With a persistent vector database the collection is kept for later
ask and chat runs.

Examples:
  docqa ingest report.pdf
  docqa ingest --config configs/postgres.yaml report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		h, err := a.ingest(ctx, args[0])
		if err != nil {
			return err
		}
		helper.PrettyPrint(h)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <file> <question>",
	Short: "Answer a single question about a document",
	Long: `Answer one question using passages retrieved from the document.

The document is ingested first unless an indexed copy already exists.

Examples:
  docqa ask report.pdf "Who wrote the report?"
  docqa ask --reindex report.pdf "What changed in the latest version?"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.open(ctx, args[0], reindex); err != nil {
			return err
		}
		question := strings.Join(args[1:], " ")
		answer, err := a.session.Ask(ctx, question)
		if err != nil {
			return err
		}
		printAnswer(cmd.OutOrStdout(), question, answer)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <file>",
	Short: "Ask questions about a document interactively",
	Long: `Start an interactive question and answer session.

Commands:
  /clear    forget the conversation so far
  /stats    show document and conversation statistics
  /history  print the conversation as json
  /quit     leave the session

Examples:
  docqa chat report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.open(ctx, args[0], reindex); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			case "/clear":
				a.session.Clear()
				fmt.Fprintln(out, "Conversation cleared.")
				continue
			case "/stats":
				helper.PrettyPrint(a.session.Stats())
				continue
			case "/history":
				helper.PrettyPrint(a.session.History())
				continue
			}

			answer, err := a.session.Ask(ctx, line)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error().Err(err).Msg("Error answering question")
				continue
			}
			printAnswer(out, "", answer)
		}
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file> [out]",
	Short: "Export the indexed document to an encrypted file",
	Long: `Export the collection of a document to an encrypted chromem file.

Requires the chromem backend and vector_db.encryption_key (32 bytes).
The document is ingested first unless an indexed copy already exists.
The default output is <vector_db.path>/<collection>.chromem.

Examples:
  docqa export report.pdf
  docqa export report.pdf backup/report.chromem`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if a.chromem == nil {
			return fmt.Errorf("%w: export needs the %s backend", models.ErrInvalidConfig, config.BackendChromem)
		}
		if err := a.open(ctx, args[0], false); err != nil {
			return err
		}

		key := helper.CollectionKey(filepath.Base(args[0]))
		out := a.chromem.ExportPath(key)
		if len(args) == 2 {
			out = args[1]
		}
		if err := helper.CreateFolder(filepath.Dir(out)); err != nil {
			return err
		}
		if err := a.chromem.Export(ctx, key, out); err != nil {
			return err
		}
		log.Info().Str("file", out).Msg("Exported collection")
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file.chromem>",
	Short: "Import an exported collection into the vector database",
	Long: `Import a file written by export. With a persistent chromem database the
imported collection is available to later ask and chat runs.

Examples:
  docqa import backup/report.chromem`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if a.chromem == nil {
			return fmt.Errorf("%w: import needs the %s backend", models.ErrInvalidConfig, config.BackendChromem)
		}
		if _, err := os.Stat(args[0]); err != nil {
			return err
		}
		handles, err := a.chromem.Import(ctx, args[0])
		if err != nil {
			return err
		}
		helper.PrettyPrint(handles)
		return nil
	},
}
