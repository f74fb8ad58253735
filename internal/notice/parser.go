package notice

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Decoder turns a normalized notice document into a Notice.
type Decoder func(doc gjson.Result) (*Notice, error)

// Parser dispatches payloads to decoders keyed by structural fingerprint.
// Keys are "<family>:<publisher>"; "<family>:*" matches any publisher of
// that family. The zero value is not usable, use NewParser.
type Parser struct {
	decoders map[string]Decoder
}

// NewParser returns a Parser with every built-in schema registered.
func NewParser() *Parser {
	p := &Parser{decoders: make(map[string]Decoder)}
	p.Register("voevent:LVC", decodeLVC)
	p.Register("voevent:FERMI", decodeFermi)
	p.Register("voevent:SWIFT", decodeSwift)
	p.Register("voevent:GECAM", decodeGECAM)
	p.Register("voevent:AMON", decodeAMON)
	p.Register("igwn:*", decodeIGWN)
	p.Register("unified:*", decodeUnified)
	return p
}

// Register adds or replaces the decoder for a fingerprint key.
func (p *Parser) Register(key string, dec Decoder) {
	p.decoders[key] = dec
}

// Schemas lists the registered fingerprint keys in sorted order.
func (p *Parser) Schemas() []string {
	keys := make([]string, 0, len(p.decoders))
	for k := range p.decoders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse decodes one raw payload.
func (p *Parser) Parse(raw []byte) (*Notice, error) {
	doc, format, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint(doc)
	if err != nil {
		return nil, err
	}
	dec, ok := p.decoders[fp]
	if !ok {
		family, _, _ := strings.Cut(fp, ":")
		dec, ok = p.decoders[family+":*"]
	}
	if !ok {
		return nil, perr("ivorn", "unknown schema %q", fp)
	}

	n, err := dec(doc)
	if err != nil {
		return nil, err
	}
	n.Format = format
	n.Payload = append([]byte(nil), raw...)
	return n, nil
}

// fingerprint identifies the schema of a normalized document from its
// structure alone.
func fingerprint(doc gjson.Result) (string, error) {
	if !doc.IsObject() {
		return "", perr("", "document root is not an object")
	}
	if ivorn := doc.Get("ivorn"); ivorn.Exists() && (doc.Get("Who").Exists() || doc.Get("What").Exists()) {
		pub, err := ivornPublisher(ivorn.String())
		if err != nil {
			return "", err
		}
		return "voevent:" + strings.ToUpper(pub), nil
	}
	if doc.Get("superevent_id").Exists() && doc.Get("alert_type").Exists() {
		return "igwn:LVC", nil
	}
	if schema := doc.Get(`\$schema`).String(); schema != "" {
		pub, _, err := unifiedPath(schema)
		if err != nil {
			return "", err
		}
		return "unified:" + pub, nil
	}
	return "", perr("", "unknown schema: no ivorn, superevent_id or $schema field")
}

// ivornPublisher extracts the resource key from an IVORN, for example
// "SWIFT" from "ivo://nasa.gsfc.gcn/SWIFT#BAT_GRB_Pos_1234-567".
func ivornPublisher(ivorn string) (string, error) {
	rest, ok := strings.CutPrefix(ivorn, "ivo://")
	if !ok {
		return "", perr("ivorn", "not an ivo:// identifier: %q", ivorn)
	}
	_, rest, ok = strings.Cut(rest, "/")
	if !ok {
		return "", perr("ivorn", "no resource key in %q", ivorn)
	}
	pub, _, _ := strings.Cut(rest, "#")
	if pub == "" {
		return "", perr("ivorn", "no resource key in %q", ivorn)
	}
	return pub, nil
}

// Envelope is the cheap header read used before a payload is queued.
type Envelope struct {
	ID   string
	Role Role
}

// Sniff reads the identifier and role without decoding the whole payload.
// Payloads without an ivorn header fall back to a full parse.
func (p *Parser) Sniff(raw []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		dec := xml.NewDecoder(bytes.NewReader(trimmed))
		dec.Strict = false
		for {
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				return Envelope{}, perr("", "no root element")
			}
			if err != nil {
				return Envelope{}, perrWrap("", "malformed XML", err)
			}
			if se, ok := tok.(xml.StartElement); ok {
				var env Envelope
				for _, a := range se.Attr {
					switch a.Name.Local {
					case "ivorn":
						env.ID = a.Value
					case "role":
						env.Role = ParseRole(a.Value)
					}
				}
				if env.ID == "" {
					return Envelope{}, perr("ivorn", "missing identifier")
				}
				if env.Role == "" {
					env.Role = RoleObservation
				}
				return env, nil
			}
		}
	}

	if gjson.ValidBytes(trimmed) {
		doc := gjson.ParseBytes(trimmed)
		if inner := doc.Get("VOEvent"); inner.IsObject() {
			doc = inner
		}
		if id := doc.Get("ivorn").String(); id != "" {
			return Envelope{ID: id, Role: ParseRole(doc.Get("role").String())}, nil
		}
	}

	n, err := p.Parse(raw)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: n.ID, Role: n.Role}, nil
}
