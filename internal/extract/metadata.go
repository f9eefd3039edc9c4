package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Metadata is the document information used to build a dataset header.
type Metadata struct {
	Title        string `json:"title"`
	Author       string `json:"author,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Creator      string `json:"creator,omitempty"`
	Producer     string `json:"producer,omitempty"`
	CreationDate string `json:"creation_date,omitempty"`
	PageCount    int    `json:"pages"`
	SHA256       string `json:"sha256"`
}

// ReadMetadata reads the info dictionary and page count through pdfcpu,
// falling back to ledongthuc/pdf for the page count and to the file stem for
// the title. A page count of zero with a nil error means neither parser could
// read the document.
func ReadMetadata(doc *Document) (*Metadata, error) {
	data, err := doc.Bytes()
	if err != nil {
		return nil, WrapExtractError("ReadMetadata", err, doc.Path)
	}
	sum := sha256.Sum256(data)
	meta := &Metadata{SHA256: hex.EncodeToString(sum[:])}

	if pctx, err := pdfcpuContext(doc); err == nil {
		meta.Title = strings.TrimSpace(pctx.Title)
		meta.Author = strings.TrimSpace(pctx.Author)
		meta.Subject = strings.TrimSpace(pctx.Subject)
		meta.Creator = strings.TrimSpace(pctx.Creator)
		meta.Producer = strings.TrimSpace(pctx.Producer)
		meta.CreationDate = strings.TrimSpace(pctx.XRefTable.CreationDate)
		meta.PageCount = pctx.PageCount
	}

	if meta.PageCount == 0 {
		if n, err := PdftextPageCount(doc); err == nil {
			meta.PageCount = n
		}
	}

	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name))
	}
	return meta, nil
}
