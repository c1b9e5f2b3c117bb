package models

import (
	"errors"
	"strconv"
	"strings"
)

// MaxSplitParts bounds split discovery: indices 1..MaxSplitParts-1 are probed.
const MaxSplitParts = 100

// ErrInvalidFtype is returned for malformed ftype codes.
var ErrInvalidFtype = errors.New("invalid ftype code")

// RestrictionClasses lists both classes in reporting order.
var RestrictionClasses = []bool{false, true}

// Artifact identifies one archive of an order. Index 0 means the archive is not split.
type Artifact struct {
	OrderID    string
	Restricted bool
	Index      int
}

// ArtifactName returns the canonical archive name, e.g. order_42_unrestricted1.zip.
func ArtifactName(orderID string, restricted bool, index int) string {
	var b strings.Builder
	b.WriteString("order_")
	b.WriteString(orderID)
	if restricted {
		b.WriteString("_restricted")
	} else {
		b.WriteString("_unrestricted")
	}
	if index > 0 {
		b.WriteString(strconv.Itoa(index))
	}
	b.WriteString(".zip")
	return b.String()
}

// Name returns the canonical archive name.
func (a Artifact) Name() string {
	return ArtifactName(a.OrderID, a.Restricted, a.Index)
}

// Ftype returns the public code of the artifact.
func (a Artifact) Ftype() string {
	return Ftype(a.Restricted, a.Index)
}

// Ftype encodes restriction class and split index: "00", "01", "11", "112".
func Ftype(restricted bool, index int) string {
	flag := "0"
	if restricted {
		flag = "1"
	}
	if index < 0 {
		index = 0
	}
	return flag + strconv.Itoa(index)
}

// ParseFtype decodes an ftype code. Index 0 means not split.
func ParseFtype(code string) (restricted bool, index int, err error) {
	if len(code) < 2 {
		return false, 0, ErrInvalidFtype
	}
	switch code[0] {
	case '0':
	case '1':
		restricted = true
	default:
		return false, 0, ErrInvalidFtype
	}
	digits := code[1:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false, 0, ErrInvalidFtype
		}
	}
	index, err = strconv.Atoi(digits)
	if err != nil {
		return false, 0, ErrInvalidFtype
	}
	return restricted, index, nil
}

// DiscoverSeries returns the artifacts of one restriction class. When part 1 exists
// parts are probed in order until the first gap; otherwise only the unsplit archive
// is considered.
func DiscoverSeries(orderID string, restricted bool, exists func(name string) bool) []Artifact {
	first := Artifact{OrderID: orderID, Restricted: restricted, Index: 1}
	if !exists(first.Name()) {
		whole := Artifact{OrderID: orderID, Restricted: restricted}
		if exists(whole.Name()) {
			return []Artifact{whole}
		}
		return nil
	}

	series := []Artifact{first}
	for index := 2; index < MaxSplitParts; index++ {
		part := Artifact{OrderID: orderID, Restricted: restricted, Index: index}
		if !exists(part.Name()) {
			break
		}
		series = append(series, part)
	}
	return series
}

// SupersededNames returns the unsplit archive names hidden because a split series
// of the same class exists among names.
func SupersededNames(orderID string, names map[string]struct{}) map[string]struct{} {
	hidden := make(map[string]struct{})
	for _, restricted := range RestrictionClasses {
		if _, ok := names[ArtifactName(orderID, restricted, 1)]; ok {
			hidden[ArtifactName(orderID, restricted, 0)] = struct{}{}
		}
	}
	return hidden
}
