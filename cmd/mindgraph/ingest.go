package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/mindgraph/internal/ingest"
	"github.com/mohammad-safakhou/mindgraph/internal/runtime"
	"github.com/mohammad-safakhou/mindgraph/models"
	"github.com/spf13/cobra"
)

func ingestCMD(cfgPath *string) *cobra.Command {
	var (
		owner  string
		title  string
		domain string
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Upload local files and enrich them in-process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgPath, appOptions{service: "ingest", inline: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ownerID, err := ensureOwner(ctx, a, owner)
			if err != nil {
				return err
			}
			var ids []string
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				in := ingest.UploadInput{
					OwnerID:  ownerID,
					Domain:   domain,
					FileName: filepath.Base(path),
					MimeType: fileMime(path, data),
					Data:     data,
				}
				if len(args) == 1 {
					in.Title = title
				}
				doc, err := a.coord.Upload(ctx, in)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				ids = append(ids, doc.ID)
			}
			a.wait()

			out := cmd.OutOrStdout()
			for _, id := range ids {
				doc, ok, err := a.repo.GetDocument(ctx, ownerID, id)
				if err != nil || !ok {
					return fmt.Errorf("reload %s: ok=%v err=%v", id, ok, err)
				}
				printDocument(out, doc)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "local@mindgraph.dev", "owner account email (created when missing)")
	cmd.Flags().StringVar(&title, "title", "", "title for a single file (default: file name)")
	cmd.Flags().StringVar(&domain, "domain", "", "document domain")
	return cmd
}

// ensureOwner returns the account for email, creating a password-less one.
func ensureOwner(ctx context.Context, a *app, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, ok, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if ok {
		return u.ID, nil
	}
	hash, err := runtime.HashPassword(uuid.NewString())
	if err != nil {
		return "", err
	}
	u, err = a.repo.CreateUser(ctx, email, hash)
	if err != nil {
		return "", fmt.Errorf("create owner %s: %w", email, err)
	}
	return u.ID, nil
}

func fileMime(path string, data []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		return mt
	}
	return http.DetectContentType(data)
}

func printDocument(w io.Writer, d models.Document) {
	fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Status, d.Title)
	if d.Summary != nil {
		fmt.Fprintf(w, "  summary: %s\n", *d.Summary)
	}
	if d.Tags != nil {
		var tags []string
		if json.Unmarshal([]byte(*d.Tags), &tags) == nil && len(tags) > 0 {
			fmt.Fprintf(w, "  tags: %s\n", strings.Join(tags, ", "))
		}
	}
}
