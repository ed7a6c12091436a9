package docgen

import (
	"context"
	"fmt"
	"strings"
)

const (
	slideWidth  = 12192000
	slideHeight = 6858000
	// maxSlideLines bounds the bullets on one point slide.
	maxSlideLines = 5
)

const pptxNS = `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
	`xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`

const emptyTree = `<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>` +
	`<p:grpSpPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="0" cy="0"/><a:chOff x="0" y="0"/><a:chExt cx="0" cy="0"/></a:xfrm></p:grpSpPr>`

const slideMaster = xmlHeader + `<p:sldMaster ` + pptxNS + `>` +
	`<p:cSld><p:bg><p:bgRef idx="1001"><a:schemeClr val="bg1"/></p:bgRef></p:bg><p:spTree>` + emptyTree + `</p:spTree></p:cSld>` +
	`<p:clrMap bg1="lt1" tx1="dk1" bg2="lt2" tx2="dk2" accent1="accent1" accent2="accent2" accent3="accent3" accent4="accent4" accent5="accent5" accent6="accent6" hlink="hlink" folHlink="folHlink"/>` +
	`<p:sldLayoutIdLst><p:sldLayoutId id="2147483649" r:id="rId1"/></p:sldLayoutIdLst>` +
	`<p:txStyles><p:titleStyle><a:lvl1pPr><a:defRPr sz="3600"/></a:lvl1pPr></p:titleStyle>` +
	`<p:bodyStyle><a:lvl1pPr><a:defRPr sz="2000"/></a:lvl1pPr></p:bodyStyle>` +
	`<p:otherStyle><a:lvl1pPr><a:defRPr sz="1800"/></a:lvl1pPr></p:otherStyle></p:txStyles>` +
	`</p:sldMaster>`

const slideMasterRels = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/theme" Target="../theme/theme1.xml"/>` +
	`</Relationships>`

const slideLayout = xmlHeader + `<p:sldLayout ` + pptxNS + ` type="blank" preserve="1">` +
	`<p:cSld name="Blank"><p:spTree>` + emptyTree + `</p:spTree></p:cSld>` +
	`<p:clrMapOvr><a:masterClrMapping/></p:clrMapOvr></p:sldLayout>`

const slideLayoutRels = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="../slideMasters/slideMaster1.xml"/>` +
	`</Relationships>`

const slideRels = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>` +
	`</Relationships>`

func solidFill(c string) string {
	return `<a:solidFill><a:srgbClr val="` + c + `"/></a:solidFill>`
}

var theme = xmlHeader + `<a:theme xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" name="Kursil">` +
	`<a:themeElements>` +
	`<a:clrScheme name="Kursil">` +
	`<a:dk1><a:srgbClr val="000000"/></a:dk1><a:lt1><a:srgbClr val="FFFFFF"/></a:lt1>` +
	`<a:dk2><a:srgbClr val="1F3763"/></a:dk2><a:lt2><a:srgbClr val="E7E6E6"/></a:lt2>` +
	`<a:accent1><a:srgbClr val="0B3D91"/></a:accent1><a:accent2><a:srgbClr val="FFC107"/></a:accent2>` +
	`<a:accent3><a:srgbClr val="006D77"/></a:accent3><a:accent4><a:srgbClr val="6A4C93"/></a:accent4>` +
	`<a:accent5><a:srgbClr val="1B5E20"/></a:accent5><a:accent6><a:srgbClr val="C62828"/></a:accent6>` +
	`<a:hlink><a:srgbClr val="0563C1"/></a:hlink><a:folHlink><a:srgbClr val="954F72"/></a:folHlink>` +
	`</a:clrScheme>` +
	`<a:fontScheme name="Kursil">` +
	`<a:majorFont><a:latin typeface="Calibri Light"/><a:ea typeface=""/><a:cs typeface=""/></a:majorFont>` +
	`<a:minorFont><a:latin typeface="Calibri"/><a:ea typeface=""/><a:cs typeface=""/></a:minorFont>` +
	`</a:fontScheme>` +
	`<a:fmtScheme name="Kursil">` +
	`<a:fillStyleLst>` + strings.Repeat(`<a:solidFill><a:schemeClr val="phClr"/></a:solidFill>`, 3) + `</a:fillStyleLst>` +
	`<a:lnStyleLst>` + strings.Repeat(`<a:ln w="9525"><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:ln>`, 3) + `</a:lnStyleLst>` +
	`<a:effectStyleLst>` + strings.Repeat(`<a:effectStyle><a:effectLst/></a:effectStyle>`, 3) + `</a:effectStyleLst>` +
	`<a:bgFillStyleLst>` + strings.Repeat(`<a:solidFill><a:schemeClr val="phClr"/></a:solidFill>`, 3) + `</a:bgFillStyleLst>` +
	`</a:fmtScheme>` +
	`</a:themeElements></a:theme>`

// slide is the content of one generated slide.
type slide struct {
	title    string
	subtitle string
	bullets  []string
	cover    bool
}

func textBox(id int, name string, x, y, cx, cy int, paras string) string {
	return fmt.Sprintf(`<p:sp><p:nvSpPr><p:cNvPr id="%d" name="%s"/><p:cNvSpPr txBox="1"/><p:nvPr/></p:nvSpPr>`+
		`<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom><a:noFill/></p:spPr>`+
		`<p:txBody><a:bodyPr wrap="square"><a:normAutofit/></a:bodyPr><a:lstStyle/>%s</p:txBody></p:sp>`,
		id, name, x, y, cx, cy, paras)
}

func para(text string, size int, bold bool, color string, bullet bool, align string) string {
	var b strings.Builder
	b.WriteString("<a:p>")
	if bullet || align != "" {
		b.WriteString("<a:pPr")
		if bullet {
			b.WriteString(` marL="342900" indent="-342900"`)
		}
		if align != "" {
			fmt.Fprintf(&b, ` algn="%s"`, align)
		}
		b.WriteString(">")
		if bullet {
			b.WriteString(`<a:buFont typeface="Arial"/><a:buChar char="•"/>`)
		}
		b.WriteString("</a:pPr>")
	}
	fmt.Fprintf(&b, `<a:r><a:rPr lang="en-US" sz="%d" dirty="0"`, size)
	if bold {
		b.WriteString(` b="1"`)
	}
	b.WriteString(">")
	b.WriteString(solidFill(color))
	fmt.Fprintf(&b, `</a:rPr><a:t>%s</a:t></a:r></a:p>`, escape(text))
	return b.String()
}

func (s slide) xml() string {
	var shapes strings.Builder
	margin := 609600
	width := slideWidth - 2*margin
	bg := "FFFFFF"
	fg := "1F3763"
	if s.cover {
		bg = "0B3D91"
		fg = "FFFFFF"
		shapes.WriteString(textBox(2, "Title", margin, slideHeight/3, width, 1371600, para(s.title, 4400, true, fg, false, "ctr")))
		if s.subtitle != "" {
			shapes.WriteString(textBox(3, "Subtitle", margin, slideHeight/3+1524000, width, 1143000, para(s.subtitle, 2000, false, "FFC107", false, "ctr")))
		}
	} else {
		shapes.WriteString(textBox(2, "Title", margin, 457200, width, 1005840, para(s.title, 3200, true, fg, false, "")))
		var body strings.Builder
		if s.subtitle != "" {
			body.WriteString(para(s.subtitle, 2000, false, "595959", false, ""))
		}
		for _, line := range s.bullets {
			body.WriteString(para(line, 1800, false, "000000", true, ""))
		}
		if body.Len() > 0 {
			shapes.WriteString(textBox(3, "Body", margin, 1600200, width, slideHeight-2057400, body.String()))
		}
	}
	return xmlHeader + `<p:sld ` + pptxNS + `><p:cSld><p:bg><p:bgPr>` + solidFill(bg) + `<a:effectLst/></p:bgPr></p:bg><p:spTree>` +
		emptyTree + shapes.String() + `</p:spTree></p:cSld><p:clrMapOvr><a:masterClrMapping/></p:clrMapOvr></p:sld>`
}

func savePresentation(path string, slides []slide) error {
	var (
		types  strings.Builder
		rels   strings.Builder
		sldIDs strings.Builder
	)
	types.WriteString(xmlHeader + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
		`<Default Extension="xml" ContentType="application/xml"/>` +
		`<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>` +
		`<Override PartName="/ppt/slideMasters/slideMaster1.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slideMaster+xml"/>` +
		`<Override PartName="/ppt/slideLayouts/slideLayout1.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slideLayout+xml"/>` +
		`<Override PartName="/ppt/theme/theme1.xml" ContentType="application/vnd.openxmlformats-officedocument.theme+xml"/>`)
	rels.WriteString(xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
		`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="slideMasters/slideMaster1.xml"/>` +
		`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/theme" Target="theme/theme1.xml"/>`)

	parts := make([]part, 0, 8+2*len(slides))
	for i, s := range slides {
		n := i + 1
		fmt.Fprintf(&types, `<Override PartName="/ppt/slides/slide%d.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slide+xml"/>`, n)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>`, n+2, n)
		fmt.Fprintf(&sldIDs, `<p:sldId id="%d" r:id="rId%d"/>`, 255+n, n+2)
		parts = append(parts,
			part{name: fmt.Sprintf("ppt/slides/slide%d.xml", n), data: []byte(s.xml())},
			part{name: fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", n), data: []byte(slideRels)},
		)
	}
	types.WriteString(`</Types>`)
	rels.WriteString(`</Relationships>`)

	presentation := xmlHeader + `<p:presentation ` + pptxNS + `>` +
		`<p:sldMasterIdLst><p:sldMasterId id="2147483648" r:id="rId1"/></p:sldMasterIdLst>` +
		`<p:sldIdLst>` + sldIDs.String() + `</p:sldIdLst>` +
		fmt.Sprintf(`<p:sldSz cx="%d" cy="%d"/><p:notesSz cx="6858000" cy="9144000"/>`, slideWidth, slideHeight) +
		`</p:presentation>`

	head := []part{
		{name: "[Content_Types].xml", data: []byte(types.String())},
		{name: "_rels/.rels", data: []byte(fmt.Sprintf(rootRels, "ppt/presentation.xml"))},
		{name: "ppt/presentation.xml", data: []byte(presentation)},
		{name: "ppt/_rels/presentation.xml.rels", data: []byte(rels.String())},
		{name: "ppt/slideMasters/slideMaster1.xml", data: []byte(slideMaster)},
		{name: "ppt/slideMasters/_rels/slideMaster1.xml.rels", data: []byte(slideMasterRels)},
		{name: "ppt/slideLayouts/slideLayout1.xml", data: []byte(slideLayout)},
		{name: "ppt/slideLayouts/_rels/slideLayout1.xml.rels", data: []byte(slideLayoutRels)},
		{name: "ppt/theme/theme1.xml", data: []byte(theme)},
	}
	return writePackage(path, append(head, parts...))
}

// Slides writes a PowerPoint deck: a title slide, one slide per topic and
// one per point.
type Slides struct {
	writer
}

// NewSlides writes into dir.
func NewSlides(dir string) *Slides {
	return &Slides{writer: newWriter(dir)}
}

func (*Slides) Kind() Kind { return KindSlides }

func (s *Slides) Assemble(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	deck := []slide{{title: doc.Subject, subtitle: doc.TranslatedSubject, cover: true}}
	for _, t := range doc.Topics {
		points := t.DiscussionPoints
		if len(points) == 0 {
			for _, p := range t.Points {
				points = append(points, p.Text)
			}
		}
		deck = append(deck, slide{title: t.Name, subtitle: t.Objective, bullets: points})
		for _, p := range t.Points {
			lines := Summarize(p.Body, maxSlideLines)
			if len(lines) == 0 && p.LearnObjective != "" {
				lines = []string{p.LearnObjective}
			}
			deck = append(deck, slide{title: p.Text, bullets: lines})
		}
	}

	path, err := outputPath(s.dir, doc.Subject, KindSlides, "pptx", s.now())
	if err != nil {
		return "", err
	}
	if err := savePresentation(path, deck); err != nil {
		return "", err
	}
	return path, nil
}
