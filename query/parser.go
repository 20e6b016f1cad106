/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tomoncle/hummer-ysql/mapping"
)

type subject int

const (
	subjectFind subject = iota
	subjectCount
	subjectExists
	subjectDelete
)

var subjectPrefixes = []struct {
	prefix  string
	subject subject
}{
	{"find", subjectFind},
	{"read", subjectFind},
	{"get", subjectFind},
	{"query", subjectFind},
	{"search", subjectFind},
	{"stream", subjectFind},
	{"count", subjectCount},
	{"exists", subjectExists},
	{"delete", subjectDelete},
	{"remove", subjectDelete},
}

type operator int

const (
	opEquals operator = iota
	opNot
	opGreaterThan
	opGreaterThanEqual
	opLessThan
	opLessThanEqual
	opBetween
	opLike
	opNotLike
	opContaining
	opNotContaining
	opStartingWith
	opEndingWith
	opIsNull
	opIsNotNull
	opIn
	opNotIn
	opTrue
	opFalse
)

// arity is the number of call arguments an operator consumes.
func (o operator) arity() int {
	switch o {
	case opIsNull, opIsNotNull, opTrue, opFalse:
		return 0
	case opBetween:
		return 2
	default:
		return 1
	}
}

// Longer keywords come first so that IsNotNull wins over NotNull and Null.
var operatorKeywords = []struct {
	keyword string
	op      operator
}{
	{"IsGreaterThanEqual", opGreaterThanEqual},
	{"GreaterThanEqual", opGreaterThanEqual},
	{"IsLessThanEqual", opLessThanEqual},
	{"LessThanEqual", opLessThanEqual},
	{"IsNotContaining", opNotContaining},
	{"IsStartingWith", opStartingWith},
	{"IsGreaterThan", opGreaterThan},
	{"NotContaining", opNotContaining},
	{"IsEndingWith", opEndingWith},
	{"IsContaining", opContaining},
	{"StartingWith", opStartingWith},
	{"GreaterThan", opGreaterThan},
	{"NotContains", opNotContaining},
	{"IsLessThan", opLessThan},
	{"EndingWith", opEndingWith},
	{"Containing", opContaining},
	{"StartsWith", opStartingWith},
	{"IsNotLike", opNotLike},
	{"IsNotNull", opIsNotNull},
	{"IsBetween", opBetween},
	{"LessThan", opLessThan},
	{"EndsWith", opEndingWith},
	{"Contains", opContaining},
	{"IsBefore", opLessThan},
	{"NotLike", opNotLike},
	{"NotNull", opIsNotNull},
	{"IsAfter", opGreaterThan},
	{"Between", opBetween},
	{"IsFalse", opFalse},
	{"IsNotIn", opNotIn},
	{"IsEqual", opEquals},
	{"Equals", opEquals},
	{"IsNull", opIsNull},
	{"IsLike", opLike},
	{"IsTrue", opTrue},
	{"Before", opLessThan},
	{"IsNot", opNot},
	{"After", opGreaterThan},
	{"False", opFalse},
	{"NotIn", opNotIn},
	{"IsIn", opIn},
	{"Like", opLike},
	{"Null", opIsNull},
	{"True", opTrue},
	{"Not", opNot},
	{"Is", opEquals},
	{"In", opIn},
}

// subjectPattern reads the optional Distinct and First/Top keywords that lead
// the subject. A keyword only counts when a new word or the end follows it,
// so FindTopicsBy carries no limit.
var subjectPattern = regexp.MustCompile(`^(Distinct)?(?:(First|Top)(\d*))?(Distinct)?(?:[A-Z]|$)`)

type part struct {
	column     string
	op         operator
	ignoreCase bool
}

type orderBy struct {
	column string
	desc   bool
}

// partTree is a query method name broken into subject, predicate and sort.
type partTree struct {
	subject  subject
	distinct bool
	limit    int
	// groups are OR-ed; the parts of a group are AND-ed.
	groups [][]part
	orders []orderBy
}

func (t *partTree) arity() int {
	n := 0
	for _, g := range t.groups {
		for _, p := range g {
			n += p.op.arity()
		}
	}
	return n
}

// parseMethodName derives a partTree from names such as
// FindTop3ByStatusAndTotalGreaterThanOrderByCreatedAtDesc.
func parseMethodName(name string, entity *mapping.PersistentEntity) (*partTree, error) {
	lowered := lowerFirst(name)
	tree := &partTree{}
	var rest string
	matched := false
	for _, sp := range subjectPrefixes {
		if strings.HasPrefix(lowered, sp.prefix) {
			tree.subject = sp.subject
			rest = lowered[len(sp.prefix):]
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: %s does not start with a query keyword", ErrInvalidMethod, name)
	}

	subjectPart, predicate := rest, ""
	if idx := strings.Index(rest, "By"); idx >= 0 {
		subjectPart, predicate = rest[:idx], rest[idx+2:]
	}
	if m := subjectPattern.FindStringSubmatch(subjectPart); m != nil {
		tree.distinct = m[1] != "" || m[4] != ""
		if m[2] != "" {
			tree.limit = 1
		}
		if m[3] != "" {
			n, err := strconv.Atoi(m[3])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: bad limit in %s", ErrInvalidMethod, name)
			}
			tree.limit = n
		}
	}

	sort := ""
	if idx := strings.Index(predicate, "OrderBy"); idx >= 0 {
		predicate, sort = predicate[:idx], predicate[idx+len("OrderBy"):]
		if sort == "" {
			return nil, fmt.Errorf("%w: %s has an empty OrderBy", ErrInvalidMethod, name)
		}
	}

	allIgnoreCase := false
	for _, suffix := range []string{"AllIgnoreCase", "AllIgnoringCase"} {
		if strings.HasSuffix(predicate, suffix) {
			predicate = strings.TrimSuffix(predicate, suffix)
			allIgnoreCase = true
			break
		}
	}

	if predicate != "" {
		for _, orPart := range splitKeyword(predicate, "Or") {
			var group []part
			for _, andPart := range splitKeyword(orPart, "And") {
				p, err := parsePart(andPart, entity)
				if err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMethod, name, err)
				}
				p.ignoreCase = p.ignoreCase || allIgnoreCase
				group = append(group, p)
			}
			tree.groups = append(tree.groups, group)
		}
	}

	if sort != "" {
		orders, err := parseOrders(sort, entity)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMethod, name, err)
		}
		tree.orders = orders
	}
	return tree, nil
}

func parsePart(s string, entity *mapping.PersistentEntity) (part, error) {
	p := part{op: opEquals}
	for _, suffix := range []string{"IgnoreCase", "IgnoringCase"} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			p.ignoreCase = true
			break
		}
	}
	if s == "" {
		return p, fmt.Errorf("empty predicate")
	}
	for _, kw := range operatorKeywords {
		property, ok := strings.CutSuffix(s, kw.keyword)
		if !ok || property == "" {
			continue
		}
		if col, ok := entity.Column(property); ok {
			p.column, p.op = col, kw.op
			return p, nil
		}
	}
	col, ok := entity.Column(s)
	if !ok {
		return p, fmt.Errorf("no property %s on %s", s, entity.Name())
	}
	p.column = col
	return p, nil
}

func parseOrders(s string, entity *mapping.PersistentEntity) ([]orderBy, error) {
	var orders []orderBy
	for s != "" {
		idx, keyword := findDirection(s)
		property := s
		desc := false
		if idx >= 0 {
			property = s[:idx]
			desc = keyword == "Desc"
			s = s[idx+len(keyword):]
		} else {
			s = ""
		}
		col, ok := entity.Column(property)
		if !ok {
			return nil, fmt.Errorf("no property %s on %s to order by", property, entity.Name())
		}
		orders = append(orders, orderBy{column: col, desc: desc})
	}
	return orders, nil
}

// findDirection finds the first Asc or Desc that ends a property name.
func findDirection(s string) (int, string) {
	for i := 1; i < len(s); i++ {
		for _, kw := range []string{"Desc", "Asc"} {
			if strings.HasPrefix(s[i:], kw) && boundary(s, i+len(kw)) {
				return i, kw
			}
		}
	}
	return -1, ""
}

// splitKeyword splits s on keyword when it is followed by an upper case letter,
// so that Or splits StatusOrTotal but not OrderDate.
func splitKeyword(s, keyword string) []string {
	var parts []string
	start := 0
	for i := 1; i+len(keyword) < len(s); i++ {
		if strings.HasPrefix(s[i:], keyword) && isUpper(s, i+len(keyword)) {
			parts = append(parts, s[start:i])
			start = i + len(keyword)
			i = start
		}
	}
	return append(parts, s[start:])
}

func boundary(s string, i int) bool {
	return i == len(s) || isUpper(s, i)
}

func isUpper(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsUpper(r)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
