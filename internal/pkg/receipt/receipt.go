// Package receipt renders the signer's certificate as a standalone HTML page.
package receipt

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-petition/internal/domain"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ContentType of rendered receipts.
const ContentType = "text/html; charset=utf-8"

// Key returns the object key a signature's receipt is stored under.
func Key(signatureID string) string {
	return "receipts/" + signatureID + ".html"
}

// Renderer turns a stored signature into its receipt.
type Renderer struct {
	md   goldmark.Markdown
	page *template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{
		// Raw HTML in petition bodies is escaped (goldmark default).
		md:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
		page: template.Must(template.New("receipt").Parse(pageTemplate)),
	}
}

type view struct {
	Title          string
	Version        string
	Body           template.HTML
	PetitionHash   string
	Name           string
	MaskedEmail    string
	Location       string
	SignedAt       string
	Method         string
	TypedSignature string
	ImageURI       template.URL
	SignatureHash  string
	SignatureID    string
	AuditHash      string
	VerifyURL      string
}

// Render builds the receipt for rec signed against p.
func (r *Renderer) Render(p *domain.Petition, rec *domain.SignatureRecord, verifyURL string) ([]byte, error) {
	var body bytes.Buffer
	if err := r.md.Convert([]byte(p.BodyMarkdown), &body); err != nil {
		return nil, fmt.Errorf("render petition body: %w", err)
	}

	v := view{
		Title:         p.Title,
		Version:       p.Version,
		Body:          template.HTML(body.String()),
		PetitionHash:  rec.PetitionHash,
		Name:          strings.TrimSpace(rec.Signer.FirstName + " " + rec.Signer.LastName),
		MaskedEmail:   MaskEmail(rec.Signer.Email),
		Location:      joinNonEmpty(", ", rec.Signer.City, rec.Signer.State, rec.Signer.Country),
		SignedAt:      rec.AuditTimestamp,
		SignatureHash: rec.SignatureImageHash,
		SignatureID:   rec.SignatureID,
		AuditHash:     rec.AuditHash,
		VerifyURL:     verifyURL,
	}
	switch a := rec.Artifact.(type) {
	case domain.DrawnSignature:
		v.Method = "Hand-drawn signature"
		v.ImageURI = template.URL("data:" + imageType(a.Image) + ";base64," + base64.StdEncoding.EncodeToString(a.Image))
	case domain.TypedSignature:
		v.Method = "Typed name"
		v.TypedSignature = a.Text
	}

	var out bytes.Buffer
	if err := r.page.Execute(&out, v); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return out.Bytes(), nil
}

// imageType sniffs the stored image the same way submission validated it.
// Anything that does not sniff as an image is labelled PNG.
func imageType(img []byte) string {
	ct := http.DetectContentType(img)
	if !strings.HasPrefix(ct, "image/") {
		return "image/png"
	}
	return ct
}

// MaskEmail keeps the first two characters of the local part and the domain.
func MaskEmail(email string) string {
	local, host, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***@" + host
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

const pageTemplate = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Signature certificate: {{.Title}}</title>
<style>
body{font-family:Helvetica,Arial,sans-serif;max-width:720px;margin:2rem auto;color:#111}
h1{font-size:1.4rem}h2{font-size:1.1rem;margin-top:2rem}
.mono{font-family:monospace;font-size:.85rem;word-break:break-all}
.petition{border-left:3px solid #ccc;padding-left:1rem}
.typed{font-size:1.6rem;font-style:italic}
</style>
</head>
<body>
<h1>Petition signature certificate</h1>

<h2>Petition</h2>
<p><strong>{{.Title}}</strong> (version {{.Version}})</p>
<div class="petition">{{.Body}}</div>
<p>Petition hash: <span class="mono">{{.PetitionHash}}</span></p>

<h2>Signer</h2>
<p>Name: {{.Name}}<br>
Email: {{.MaskedEmail}}<br>
{{if .Location}}Location: {{.Location}}<br>{{end}}
Signed: {{.SignedAt}}<br>
Method: {{.Method}}</p>

<h2>Signature</h2>
{{if .ImageURI}}<img src="{{.ImageURI}}" alt="signature" width="300">{{else}}<p class="typed">{{.TypedSignature}}</p>{{end}}

<h2>Verification</h2>
<p>Signature ID: <span class="mono">{{.SignatureID}}</span><br>
{{if .SignatureHash}}Signature hash: <span class="mono">{{.SignatureHash}}</span><br>{{end}}
Audit hash: <span class="mono">{{.AuditHash}}</span></p>
{{if .VerifyURL}}<p>Verify at <a href="{{.VerifyURL}}">{{.VerifyURL}}</a></p>{{end}}
</body>
</html>
`
