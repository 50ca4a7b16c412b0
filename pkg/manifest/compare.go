package manifest

import (
	"sort"

	"github.com/function61/tapevault/pkg/contentdigest"
	"github.com/samber/lo"
)

type Comparison struct {
	Common       []string // same path, same digest
	Different    []string // same path, different digest
	OnlyInFirst  []string
	OnlyInSecond []string
}

// compares the record sets of two manifests by path. useful for checking
// that two independent runs over the same tree agree.
func Compare(first *Manifest, second *Manifest) Comparison {
	digestsByPath := func(m *Manifest) map[string]contentdigest.Token {
		byPath := map[string]contentdigest.Token{}
		for _, rec := range m.Records {
			byPath[rec.Path] = rec.Digest
		}
		return byPath
	}

	firstDigests := digestsByPath(first)
	secondDigests := digestsByPath(second)

	comparison := Comparison{
		OnlyInFirst:  lo.Without(lo.Keys(firstDigests), lo.Keys(secondDigests)...),
		OnlyInSecond: lo.Without(lo.Keys(secondDigests), lo.Keys(firstDigests)...),
	}

	for path, firstDigest := range firstDigests {
		secondDigest, inBoth := secondDigests[path]
		if !inBoth {
			continue
		}

		if firstDigest == secondDigest {
			comparison.Common = append(comparison.Common, path)
		} else {
			comparison.Different = append(comparison.Different, path)
		}
	}

	sort.Strings(comparison.Common)
	sort.Strings(comparison.Different)
	sort.Strings(comparison.OnlyInFirst)
	sort.Strings(comparison.OnlyInSecond)

	return comparison
}
