package docgen

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
)

// part is one file inside an OOXML package.
type part struct {
	name string
	data []byte
}

// writePackage zips parts into path. [Content_Types].xml must be first.
func writePackage(path string, parts []part) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	zw := zip.NewWriter(f)
	for _, p := range parts {
		w, err := zw.Create(p.name)
		if err != nil {
			zw.Close()
			f.Close()
			return fmt.Errorf("adding %s: %w", p.name, err)
		}
		if _, err := w.Write(p.data); err != nil {
			zw.Close()
			f.Close()
			return fmt.Errorf("writing %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing %s: %w", path, err)
	}
	return f.Close()
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

const rootRels = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="%s"/>` +
	`</Relationships>`
