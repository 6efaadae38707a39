/*
merge.go implements the reply-merging rules of spec.md §4.4.3, grounded
directly in the original scheduler's int_status.c: the fixed job-state
enumeration and its decode/encode tokens, the DOUBLE/LONG/SIZE/STRING
resource classification, and the two-pass collect-merge-append-missing
structure spec.md §9's Open Question 2 asks implementations to choose
explicitly instead of the original's interleaved traversal.
*/
package fanout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pbspro/sched-ctl/internal/domain/model"
)

var sizeSuffixToKB = map[string]int64{
	"kb": 1,
	"mb": 1024,
	"gb": 1024 * 1024,
	"tb": 1024 * 1024 * 1024,
	"pb": 1024 * 1024 * 1024 * 1024,
}

// decodeStateCount parses a whitespace-separated "State:count" token
// list into the fixed-order vector over
// {Transit, Queued, Held, Waiting, Running, Exiting, Begun}. Unknown
// state names are silently dropped, per spec.md §9's preserved
// behavior.
func decodeStateCount(s string) [model.NumJobStates]int64 {
	var counts [model.NumJobStates]int64
	for _, tok := range strings.Fields(s) {
		name, countStr, ok := strings.Cut(tok, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(countStr, 10, 64)
		if err != nil {
			continue
		}
		idx := jobStateIndex(name)
		if idx < 0 {
			continue
		}
		counts[idx] = n
	}
	return counts
}

// encodeStateCount re-encodes the vector in canonical token order,
// with a trailing space after the last token - matching the original
// encoder's buffer convention.
func encodeStateCount(counts [model.NumJobStates]int64) string {
	var b strings.Builder
	for i := 0; i < model.NumJobStates; i++ {
		b.WriteString(model.JobStateName(model.JobState(i)))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(counts[i], 10))
		b.WriteByte(' ')
	}
	return b.String()
}

func jobStateIndex(name string) int {
	for i := 0; i < model.NumJobStates; i++ {
		if model.JobStateName(model.JobState(i)) == name {
			return i
		}
	}
	return -1
}

// assessType classifies a resources_assigned value the way
// assess_type does in int_status.c: a decimal point plus a valid float
// parse wins as DOUBLE; otherwise an integer with a recognized size
// suffix wins as SIZE; otherwise a bare integer is LONG; anything else
// is STRING.
func assessType(value string) model.ResourceType {
	if strings.Contains(value, ".") {
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return model.ResourceDouble
		}
	}
	if _, _, ok := splitSizeSuffix(value); ok {
		return model.ResourceSize
	}
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return model.ResourceLong
	}
	return model.ResourceString
}

func splitSizeSuffix(value string) (int64, string, bool) {
	lower := strings.ToLower(value)
	for suffix := range sizeSuffixToKB {
		if strings.HasSuffix(lower, suffix) {
			numPart := value[:len(value)-len(suffix)]
			n, err := strconv.ParseInt(numPart, 10, 64)
			if err != nil {
				continue
			}
			return n, suffix, true
		}
	}
	return 0, "", false
}

func toKB(value string) (int64, error) {
	n, suffix, ok := splitSizeSuffix(value)
	if !ok {
		return 0, fmt.Errorf("fanout: %q is not a recognized size value", value)
	}
	return n * sizeSuffixToKB[suffix], nil
}

func fromKB(kb int64) string {
	return strconv.FormatInt(kb, 10) + "kb"
}

// addResourceValues sums two same-typed resource values, per the rules
// of spec.md §4.4.3 point 3.
func addResourceValues(t model.ResourceType, a, b string) (string, error) {
	switch t {
	case model.ResourceDouble:
		av, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return "", err
		}
		bv, err := strconv.ParseFloat(b, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(av+bv, 'f', -1, 64), nil
	case model.ResourceLong:
		av, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return "", err
		}
		bv, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(av+bv, 10), nil
	case model.ResourceSize:
		akb, err := toKB(a)
		if err != nil {
			return "", err
		}
		bkb, err := toKB(b)
		if err != nil {
			return "", err
		}
		return fromKB(akb + bkb), nil
	default:
		return "", fmt.Errorf("fanout: resource type %v is not additive", t)
	}
}

// mergeResources folds b's resources_assigned attributes into a's,
// using the two-pass structure Open Question 2 asks for: first collect
// a's existing entries by resource name, then fold every entry of b
// against that map, then append whatever in b had no match, in b's
// order.
func mergeResources(a *model.StatusEntry, b *model.StatusEntry) {
	existing := make(map[string]int, len(a.Attribs))
	for i := range a.Attribs {
		if a.Attribs[i].Name == model.AttrResAssigned {
			existing[a.Attribs[i].Resource] = i
		}
	}

	var toAppend []model.Attr
	for _, bAttr := range b.Attribs {
		if bAttr.Name != model.AttrResAssigned {
			continue
		}
		rt := assessType(bAttr.Value)
		if rt == model.ResourceString {
			continue // non-additive, dropped per spec.md §4.4.3
		}

		idx, ok := existing[bAttr.Resource]
		if !ok {
			toAppend = append(toAppend, bAttr)
			continue
		}
		sum, err := addResourceValues(rt, a.Attribs[idx].Value, bAttr.Value)
		if err != nil {
			continue
		}
		a.Attribs[idx].Value = sum
	}

	a.Attribs = append(a.Attribs, toAppend...)
}

// foldAttrs implements the shared attribute-folding rules both
// merge_server and merge_queue apply: state_count summed element-wise
// and re-encoded, total_jobs summed, resources_assigned folded per
// mergeResources.
func foldAttrs(a, b *model.StatusEntry) {
	if av, aok := a.FindAttr(model.AttrStateCount); aok {
		if bv, bok := b.FindAttr(model.AttrStateCount); bok {
			ac := decodeStateCount(av)
			bc := decodeStateCount(bv)
			var sum [model.NumJobStates]int64
			for i := range sum {
				sum[i] = ac[i] + bc[i]
			}
			a.SetAttr(model.AttrStateCount, encodeStateCount(sum))
		}
	} else if bv, bok := b.FindAttr(model.AttrStateCount); bok {
		a.SetAttr(model.AttrStateCount, bv)
	}

	if av, aok := a.FindAttr(model.AttrTotalJobs); aok {
		if bv, bok := b.FindAttr(model.AttrTotalJobs); bok {
			an, _ := strconv.ParseInt(av, 10, 64)
			bn, _ := strconv.ParseInt(bv, 10, 64)
			a.SetAttr(model.AttrTotalJobs, strconv.FormatInt(an+bn, 10))
		}
	} else if bv, bok := b.FindAttr(model.AttrTotalJobs); bok {
		a.SetAttr(model.AttrTotalJobs, bv)
	}

	mergeResources(a, b)
}

// mergeServer folds b's entity into a, in place (spec.md §4.4.3
// "Server object").
func mergeServer(a, b *model.StatusEntry) {
	foldAttrs(a, b)
}

// mergeQueue folds b's queue entity into a, in place (spec.md §4.4.3
// "Queue object").
func mergeQueue(a, b *model.StatusEntry) {
	foldAttrs(a, b)
}
