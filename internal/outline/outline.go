// Package outline parses model-produced curriculum outlines and bulk
// elaborations. Both parsers are line scanners keyed on named markers and
// tolerate missing fields, reordered fields and formatting noise.
package outline

import (
	"regexp"
	"strings"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/logger"
)

// TopicRecord is one parsed outline topic.
type TopicRecord struct {
	Name        string
	Objective   string
	KeyConcepts string
	Skills      string
	Points      []string
}

type field int

const (
	fieldNone field = iota
	fieldTitle
	fieldObjective
	fieldKeyConcepts
	fieldSkills
	fieldPoints
)

var markers = map[string]field{
	"topic title":           fieldTitle,
	"topic":                 fieldTitle,
	"title":                 fieldTitle,
	"objective":             fieldObjective,
	"objectives":            fieldObjective,
	"key concepts":          fieldKeyConcepts,
	"key concept":           fieldKeyConcepts,
	"skills to be mastered": fieldSkills,
	"skills":                fieldSkills,
	"point of discussion":   fieldPoints,
	"points of discussion":  fieldPoints,
	"point of discussions":  fieldPoints,
	"discussion points":     fieldPoints,
}

type options struct {
	log *logger.Logger
}

// Option configures a parse.
type Option func(*options)

// WithLogger routes skipped-section diagnostics to log at debug level.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// ParseOutline extracts topics in appearance order. Sections without a
// title are skipped; it fails with ParseAmbiguous only when no topic at all
// could be extracted.
func ParseOutline(text string, opts ...Option) ([]TopicRecord, error) {
	o := options{log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	p := &outlineParser{log: o.log}
	for _, raw := range strings.Split(normalizeNewlines(text), "\n") {
		p.line(raw)
	}
	p.flush()

	if len(p.topics) == 0 {
		return nil, apperr.Newf(apperr.KindParseAmbiguous,
			"no topics found in outline (%d sections skipped)", p.skipped)
	}
	return p.topics, nil
}

type outlineParser struct {
	log      *logger.Logger
	topics   []TopicRecord
	cur      *TopicRecord
	explicit bool // cur was opened by a title marker
	seen     map[string]bool
	mode     field
	pending  bool // mode is a marker whose inline value was empty
	// pointsIndent is the indent of the line that opened the point list.
	pointsIndent int
	blank        bool // a blank line was seen since the last content line
	skipped      int
}

func (p *outlineParser) line(raw string) {
	if strings.TrimSpace(raw) == "" {
		if p.cur != nil {
			p.blank = true
		}
		return
	}

	if p.blank {
		p.blank = false
		// A blank line inside a point list does not end it when the list
		// continues with another bullet.
		continues := p.mode == fieldPoints && isBullet(raw) && !p.isHeading(raw)
		if !continues {
			p.flush()
		}
	}

	label, value, hasMarker := p.marker(raw)
	if hasMarker && label == fieldPoints {
		p.pointsIndent = indentWidth(raw)
	}
	switch {
	case hasMarker && label == fieldTitle:
		p.startTopic(value, true)
	case hasMarker:
		p.ensureSection()
		p.mode = label
		p.pending = value == ""
		if value != "" {
			p.setField(label, value)
		}
	case p.pending && p.mode != fieldPoints:
		p.appendField(p.mode, clean(raw))
	case p.mode == fieldPoints:
		if strings.HasPrefix(strings.TrimSpace(raw), "#") {
			p.startTopic(clean(raw), false)
			return
		}
		p.addPoint(clean(raw))
	case p.isHeading(raw):
		p.startTopic(clean(raw), false)
	case isEmphasized(raw) && (p.cur == nil || p.cur.Name == "") && p.mode == fieldNone:
		p.startTopic(clean(raw), false)
	}
}

// marker is parseMarker, except that inside a point list a line indented
// deeper than the list's own marker is always a point, even when it reads
// "Label: text".
func (p *outlineParser) marker(raw string) (field, string, bool) {
	label, value, ok := parseMarker(raw)
	if ok && p.mode == fieldPoints && indentWidth(raw) > p.pointsIndent {
		return fieldNone, "", false
	}
	return label, value, ok
}

// isHeading reports a title-marker line, a '#' heading, or an unindented
// numbered line.
func (p *outlineParser) isHeading(raw string) bool {
	if label, _, ok := p.marker(raw); ok {
		return label == fieldTitle
	}
	t := strings.TrimSpace(raw)
	if strings.HasPrefix(t, "#") {
		return true
	}
	if indented(raw) {
		return false
	}
	_, ok := cutNumbering(t)
	return ok
}

func (p *outlineParser) startTopic(name string, explicit bool) {
	if p.cur != nil && (p.cur.Name != "" || p.hasContent()) {
		p.flush()
	}
	p.ensureSection()
	p.cur.Name = name
	p.explicit = explicit
	p.mode = fieldTitle
	p.pending = name == ""
}

func (p *outlineParser) ensureSection() {
	if p.cur == nil {
		p.cur = &TopicRecord{}
		p.seen = make(map[string]bool)
		p.mode = fieldNone
		p.pending = false
	}
}

func (p *outlineParser) hasContent() bool {
	c := p.cur
	return c.Objective != "" || c.KeyConcepts != "" || c.Skills != "" || len(c.Points) > 0
}

func (p *outlineParser) setField(f field, value string) {
	switch f {
	case fieldObjective:
		p.cur.Objective = value
	case fieldKeyConcepts:
		p.cur.KeyConcepts = value
	case fieldSkills:
		p.cur.Skills = value
	case fieldPoints:
		p.addPoint(value)
	}
}

func (p *outlineParser) appendField(f field, value string) {
	if value == "" {
		return
	}
	var dst *string
	switch f {
	case fieldTitle:
		p.cur.Name = value
		p.pending = false
		return
	case fieldObjective:
		dst = &p.cur.Objective
	case fieldKeyConcepts:
		dst = &p.cur.KeyConcepts
	case fieldSkills:
		dst = &p.cur.Skills
	default:
		return
	}
	if *dst == "" {
		*dst = value
	} else {
		*dst += " " + value
	}
}

func (p *outlineParser) addPoint(point string) {
	if point == "" {
		return
	}
	p.ensureSection()
	key := strings.ToLower(point)
	if p.seen[key] {
		return
	}
	p.seen[key] = true
	p.cur.Points = append(p.cur.Points, point)
}

func (p *outlineParser) flush() {
	defer func() {
		p.cur = nil
		p.explicit = false
		p.mode = fieldNone
		p.pending = false
	}()
	if p.cur == nil {
		return
	}
	if p.cur.Name != "" && !p.explicit && !p.hasContent() {
		// A bare heading such as a document title.
		return
	}
	if p.cur.Name == "" {
		if p.hasContent() {
			p.skipped++
			p.log.Debug("outline section without title skipped",
				"objective", p.cur.Objective, "points", len(p.cur.Points))
		}
		return
	}
	p.topics = append(p.topics, *p.cur)
}

// Elaboration is one Subtopic section of a bulk elaboration reply.
type Elaboration struct {
	Subtopic string
	Body     string
}

// ParseElaboration splits text on Subtopic markers. Lines before the first
// marker are ignored; blank lines are dropped from bodies.
func ParseElaboration(text string) []Elaboration {
	var (
		out  []Elaboration
		cur  *Elaboration
		body []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Body = strings.Join(body, "\n")
		out = append(out, *cur)
		cur, body = nil, nil
	}

	for _, raw := range strings.Split(normalizeNewlines(text), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if title, ok := subtopicMarker(raw); ok {
			flush()
			cur = &Elaboration{Subtopic: title}
			continue
		}
		if cur != nil {
			body = append(body, strings.TrimRight(raw, " \t"))
		}
	}
	flush()
	return out
}

// subtopicRe matches "Subtopic: x", "Subtopic 2 - x", "Subtopic 3. x" and
// the en dash form, but not "Subtopics".
var subtopicRe = regexp.MustCompile(`(?i)^subtopic\b\s*(?:\d+\s*)?[:.\-–]\s*(.*)$`)

func subtopicMarker(raw string) (string, bool) {
	m := subtopicRe.FindStringSubmatch(clean(raw))
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(strings.Trim(m[1], "*_ ")), true
}

// MatchElaborations assigns each point index the body of a parsed section:
// exact normalised title match first, then containment either way, then
// positional pairing of the leftovers when their counts agree.
func MatchElaborations(points []string, recs []Elaboration) map[int]string {
	out := make(map[int]string)
	used := make([]bool, len(recs))
	normRecs := make([]string, len(recs))
	for i, r := range recs {
		normRecs[i] = normalizeName(r.Subtopic)
	}

	assign := func(pi, ri int) {
		used[ri] = true
		if strings.TrimSpace(recs[ri].Body) != "" {
			out[pi] = recs[ri].Body
		}
	}
	matched := make([]bool, len(points))

	for pi, point := range points {
		np := normalizeName(point)
		for ri := range recs {
			if !used[ri] && np != "" && normRecs[ri] == np {
				assign(pi, ri)
				matched[pi] = true
				break
			}
		}
	}

	for pi, point := range points {
		if matched[pi] {
			continue
		}
		np := normalizeName(point)
		if np == "" {
			continue
		}
		for ri := range recs {
			nr := normRecs[ri]
			if used[ri] || nr == "" {
				continue
			}
			if strings.Contains(nr, np) || strings.Contains(np, nr) {
				assign(pi, ri)
				matched[pi] = true
				break
			}
		}
	}

	var leftPoints, leftRecs []int
	for pi := range points {
		if !matched[pi] {
			leftPoints = append(leftPoints, pi)
		}
	}
	for ri := range recs {
		if !used[ri] {
			leftRecs = append(leftRecs, ri)
		}
	}
	if len(leftPoints) == len(leftRecs) {
		for i, pi := range leftPoints {
			assign(pi, leftRecs[i])
		}
	}
	return out
}
