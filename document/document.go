/*
document.go - Plain-text budget rendering and file storage

PURPOSE:
  Default implementations of the engine's document seams: a renderer that
  produces a printable plain-text budget sheet, and a blob store backed by
  a local directory. Production deployments swap these for the PDF
  renderer and object storage; the engine only sees the interfaces.

OUTPUT FORMAT:
  Fixed-width text, one line per item, totals at the bottom. Deliberately
  boring: the point is a readable artifact with a stable layout, not
  typography.

SEE ALSO:
  - obra/projection.go: DocumentRenderer / BlobStore interfaces
  - api/handlers.go: GenerateDocument endpoint
*/
package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldworks/obra-engine/obra"
)

// =============================================================================
// TEXT RENDERER
// =============================================================================

// TextRenderer renders a budget projection as a fixed-width text sheet.
type TextRenderer struct{}

func NewTextRenderer() *TextRenderer { return &TextRenderer{} }

func (TextRenderer) RenderBudget(_ context.Context, doc obra.BudgetDocument) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "BUDGET %s  (version %d)\n", doc.WorkOrderCode, doc.VersionNumber)
	fmt.Fprintf(&b, "%s\n\n", doc.Title)
	fmt.Fprintf(&b, "Client: %s\n", doc.ClientName)
	if doc.SiteName != "" {
		fmt.Fprintf(&b, "Site:   %s\n", doc.SiteName)
	}
	if doc.PaymentTerms != "" {
		fmt.Fprintf(&b, "Terms:  %s\n", doc.PaymentTerms)
	}
	if doc.ValidityDays > 0 {
		fmt.Fprintf(&b, "Valid:  %d days from issue\n", doc.ValidityDays)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%-4s %-12s %-40s %10s %-6s %12s %12s\n",
		"#", "KIND", "DESCRIPTION", "QTY", "UNIT", "UNIT PRICE", "SUBTOTAL")
	b.WriteString(strings.Repeat("-", 102))
	b.WriteString("\n")
	for _, line := range doc.Lines {
		fmt.Fprintf(&b, "%-4d %-12s %-40s %10s %-6s %12s %12s\n",
			line.Position, line.Kind, truncate(line.Description, 40),
			line.Quantity.String(), line.Unit,
			line.UnitPrice.String(), line.Subtotal.String())
	}
	b.WriteString(strings.Repeat("-", 102))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%90s %12s\n", "Subtotal", doc.Subtotal.String())
	fmt.Fprintf(&b, "%90s %12s\n", "TOTAL", doc.Total.String())

	if doc.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", doc.Notes)
	}
	fmt.Fprintf(&b, "\nGenerated %s\n", doc.GeneratedAt.Format("2006-01-02 15:04 MST"))

	return []byte(b.String()), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// =============================================================================
// DIRECTORY BLOB STORE
// =============================================================================

// DirStore writes rendered documents under a local directory and returns
// the file path as the storage ref.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating document directory %s: %w", dir, err)
	}
	return &DirStore{dir: dir}, nil
}

func (d *DirStore) Put(_ context.Context, name string, data []byte) (string, error) {
	// The rendered artifact is text regardless of the suggested name.
	name = strings.TrimSuffix(name, ".pdf") + ".txt"
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing document %s: %w", path, err)
	}
	return path, nil
}
