package cost

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer counts tokens. Hosted models are counted with the cl100k_base
// BPE; open-weight families (llama, qwen, mistral) use a character-run
// estimate. Count is deterministic for a given (model, text) pair.
type Tokenizer struct{}

const (
	bpeEncoding          = "cl100k_base"
	defaultCharsPerToken = 4.0
	openFamilyPerToken   = 3.6
	// shortRun is the longest word run charged as a single token.
	shortRun = 4
)

var openFamilies = []string{"llama", "qwen", "mistral"}

// encoding loads the embedded BPE ranks once. A load failure leaves every
// model on the estimate.
var encoding = sync.OnceValues(func() (*tiktoken.Tiktoken, error) {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	return tiktoken.GetEncoding(bpeEncoding)
})

// Count returns the number of tokens text occupies for model.
func (Tokenizer) Count(model, text string) int {
	if text == "" {
		return 0
	}
	if !isOpenFamily(model) {
		if enc, err := encoding(); err == nil {
			// Special-token text counts as ordinary input instead of
			// panicking the encoder.
			return len(enc.Encode(text, []string{"all"}, nil))
		}
	}
	return estimate(charsPerToken(model), text)
}

func estimate(ratio float64, text string) int {
	total := 0
	for _, run := range splitRuns(text) {
		switch run.kind {
		case runSpace:
			// Whitespace folds into the following token except long
			// indentation blocks.
			if run.n > 4 {
				total += int(math.Ceil(float64(run.n) / (ratio * 2)))
			}
		case runPunct:
			total += run.n
		default:
			if run.n <= shortRun {
				total++
				continue
			}
			total += int(math.Ceil(float64(run.n) / ratio))
		}
	}
	return total
}

func isOpenFamily(model string) bool {
	m := strings.ToLower(model)
	for _, family := range openFamilies {
		if strings.Contains(m, family) {
			return true
		}
	}
	return false
}

func charsPerToken(model string) float64 {
	if isOpenFamily(model) {
		return openFamilyPerToken
	}
	return defaultCharsPerToken
}

type runKind int

const (
	runWord runKind = iota
	runNumber
	runPunct
	runSpace
)

type run struct {
	kind runKind
	n    int // rune count
}

func classify(r rune) runKind {
	switch {
	case unicode.IsSpace(r):
		return runSpace
	case unicode.IsDigit(r):
		return runNumber
	case unicode.IsLetter(r) || unicode.IsMark(r):
		return runWord
	default:
		return runPunct
	}
}

func splitRuns(text string) []run {
	var runs []run
	for _, r := range text {
		k := classify(r)
		if len(runs) > 0 && runs[len(runs)-1].kind == k && k != runPunct {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, run{kind: k, n: 1})
	}
	return runs
}
