// Package geocode 把查询文本中的地名替换为坐标标注
package geocode

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"walkable-city/model"
)

// 匹配来源
const (
	SourcePlace   = "place"
	SourceFeature = "feature"
)

// Resolution 一次解析命中: 文本片段 -> 坐标
type Resolution struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Source  string  `json:"source"`
	Matches int     `json:"matches"`
}

// FeatureSearcher 兴趣点名称子串搜索，由 store.Store 实现
type FeatureSearcher interface {
	FeaturesByName(text string, limit int) []model.Feature
}

// Options 解析参数
type Options struct {
	MinFallbackMatches  int // 兴趣点名称回退至少需要的命中数
	FallbackSampleLimit int // 回退时参与求质心的最大命中数
	LookupSampleLimit   int // Lookup 回退时参与求质心的最大命中数
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{MinFallbackMatches: 3, FallbackSampleLimit: 50, LookupSampleLimit: 10}
}

// 已经替换过的坐标标注，再次解析时整体跳过
var annotationPattern = regexp.MustCompile(`\(lat -?\d+(?:\.\d+)?, lon -?\d+(?:\.\d+)?\)`)

// 首字母大写的单词
var capitalizedWord = regexp.MustCompile(`^\p{Lu}\p{Ll}+$`)

// 常见的查询词，回退匹配时不当作地名
var stopwords = toSet(
	"find", "show", "how", "what", "where", "many", "list", "count",
	"near", "from", "within", "walking", "route", "area", "distance",
	"nearest", "closest", "around", "between", "minutes", "kilometers",
	"team", "found", "injured", "person", "need", "get", "them",
	"hospital", "clinic", "pharmacy", "shelter", "school", "police",
	"fast", "help", "emergency", "medical", "water", "food",
	"distributing", "supplies", "walkable", "checking", "capacity",
	"before", "storm", "hits", "comms", "down", "station",
	"resupply", "first", "aid", "kits", "any", "planning",
	"evacuation", "routes", "convention", "center", "facilities",
	"community", "reporting", "issues", "resources", "close",
	"looking", "schools", "use", "shelters", "roads", "flooded",
	"can", "someone", "walk", "the", "and", "for", "with",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// token 文本中的一个单词 (字母或数字的连续序列)
type token struct {
	start, end int    // 原文中的字节区间
	text       string // 原文
	norm       string // 小写形式
	masked     bool   // 位于坐标标注内
}

func tokenize(text string) []token {
	var tokens []token
	start := -1
	flush := func(end int) {
		if start >= 0 {
			raw := text[start:end]
			tokens = append(tokens, token{start: start, end: end, text: raw, norm: strings.ToLower(raw)})
			start = -1
		}
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return tokens
}

func normalize(name string) []string {
	toks := tokenize(name)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.norm
	}
	return out
}

// placeName 一个可匹配的地名 (单词序列)
type placeName struct {
	tokens  []string
	key     string
	runeLen int
	place   model.Place
}

// span 已接受的一次匹配
type span struct {
	start, end int // 原文字节区间
	res        Resolution
}

// Resolver 地名解析器，构建后只读
type Resolver struct {
	names    []placeName
	byKey    map[string]int
	byFirst  map[string][]int
	features FeatureSearcher
	opts     Options
}

// New 用地点表构建解析器，同名地点只保留第一个
func New(places []model.Place, features FeatureSearcher, opts Options) *Resolver {
	d := DefaultOptions()
	if opts.MinFallbackMatches <= 0 {
		opts.MinFallbackMatches = d.MinFallbackMatches
	}
	if opts.FallbackSampleLimit <= 0 {
		opts.FallbackSampleLimit = d.FallbackSampleLimit
	}
	if opts.LookupSampleLimit <= 0 {
		opts.LookupSampleLimit = d.LookupSampleLimit
	}
	r := &Resolver{
		byKey:    make(map[string]int),
		byFirst:  make(map[string][]int),
		features: features,
		opts:     opts,
	}

	for _, p := range places {
		toks := normalize(p.Name)
		if len(toks) == 0 {
			continue
		}
		key := strings.Join(toks, " ")
		if _, ok := r.byKey[key]; ok {
			continue
		}
		r.byKey[key] = -1
		r.names = append(r.names, placeName{tokens: toks, key: key, runeLen: utf8.RuneCountInString(key), place: p})
	}

	// 最长优先: 单词数、字符数，最后按字典序保证确定性
	sort.Slice(r.names, func(i, j int) bool {
		a, b := r.names[i], r.names[j]
		if len(a.tokens) != len(b.tokens) {
			return len(a.tokens) > len(b.tokens)
		}
		if a.runeLen != b.runeLen {
			return a.runeLen > b.runeLen
		}
		return a.key < b.key
	})
	for i, n := range r.names {
		r.byKey[n.key] = i
		r.byFirst[n.tokens[0]] = append(r.byFirst[n.tokens[0]], i)
	}
	return r
}

// PlaceCount 可匹配的地名数量
func (r *Resolver) PlaceCount() int { return len(r.names) }

// Resolve 扫描文本中的地名，替换为 "(lat x, lon y)" 标注
// 返回改写后的文本和按原文片段索引的解析结果；对改写结果再次解析不会产生新的匹配
func (r *Resolver) Resolve(text string) (string, map[string]Resolution) {
	tokens := tokenize(text)
	for _, loc := range annotationPattern.FindAllStringIndex(text, -1) {
		for i := range tokens {
			if tokens[i].start >= loc[0] && tokens[i].end <= loc[1] {
				tokens[i].masked = true
			}
		}
	}
	used := make([]bool, len(tokens))
	for i, t := range tokens {
		used[i] = t.masked
	}

	spans := r.matchPlaces(tokens, used)
	spans = append(spans, r.matchFeatures(text, tokens, used)...)

	resolutions := make(map[string]Resolution, len(spans))
	if len(spans) == 0 {
		return text, resolutions
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	prev := 0
	for _, s := range spans {
		b.WriteString(text[prev:s.start])
		fmt.Fprintf(&b, "(lat %.6f, lon %.6f)", s.res.Lat, s.res.Lon)
		prev = s.end
		matched := text[s.start:s.end]
		if _, ok := resolutions[matched]; !ok {
			resolutions[matched] = s.res
		}
	}
	b.WriteString(text[prev:])
	return b.String(), resolutions
}

// matchPlaces 按最长优先的顺序接受所有互不重叠的地名出现
func (r *Resolver) matchPlaces(tokens []token, used []bool) []span {
	if len(tokens) == 0 || len(r.names) == 0 {
		return nil
	}
	// 只尝试首词出现在文本中的地名
	candidates := map[int]struct{}{}
	for _, t := range tokens {
		for _, idx := range r.byFirst[t.norm] {
			candidates[idx] = struct{}{}
		}
	}
	order := make([]int, 0, len(candidates))
	for idx := range candidates {
		order = append(order, idx)
	}
	sort.Ints(order)

	var spans []span
	for _, idx := range order {
		name := r.names[idx]
		k := len(name.tokens)
		for i := 0; i+k <= len(tokens); i++ {
			if !matchAt(tokens, used, i, name.tokens) {
				continue
			}
			for j := i; j < i+k; j++ {
				used[j] = true
			}
			spans = append(spans, span{
				start: tokens[i].start,
				end:   tokens[i+k-1].end,
				res: Resolution{
					Name:    name.place.Name,
					Lat:     name.place.Lat,
					Lon:     name.place.Lon,
					Source:  SourcePlace,
					Matches: 1,
				},
			})
			i += k - 1
		}
	}
	return spans
}

func matchAt(tokens []token, used []bool, i int, want []string) bool {
	for j, w := range want {
		if used[i+j] || tokens[i+j].norm != w {
			return false
		}
	}
	return true
}

// matchFeatures 地点表没有命中的大写词组，回退到兴趣点名称的子串搜索
// 命中数不足 MinFallbackMatches 时丢弃，避免个别噪声标签
func (r *Resolver) matchFeatures(text string, tokens []token, used []bool) []span {
	if r.features == nil {
		return nil
	}
	var spans []span
	for _, c := range capitalizedRuns(text, tokens, used) {
		phrase := text[tokens[c.first].start:tokens[c.last].end]
		hits := r.features.FeaturesByName(phrase, r.opts.FallbackSampleLimit)
		if len(hits) < r.opts.MinFallbackMatches {
			continue
		}
		lat, lon := centroid(hits)
		for j := c.first; j <= c.last; j++ {
			used[j] = true
		}
		spans = append(spans, span{
			start: tokens[c.first].start,
			end:   tokens[c.last].end,
			res: Resolution{
				Name:    phrase,
				Lat:     lat,
				Lon:     lon,
				Source:  SourceFeature,
				Matches: len(hits),
			},
		})
	}
	return spans
}

type run struct{ first, last int }

// capitalizedRuns 连续的首字母大写单词 (只以空白分隔)，遇到停用词或已使用的单词断开
// 返回顺序: 单词数多的在前，同样长度按出现顺序
func capitalizedRuns(text string, tokens []token, used []bool) []run {
	var runs []run
	cur := run{first: -1}
	closeRun := func() {
		if cur.first >= 0 {
			runs = append(runs, cur)
		}
		cur = run{first: -1}
	}
	for i, t := range tokens {
		_, stop := stopwords[t.norm]
		if used[i] || stop || !capitalizedWord.MatchString(t.text) {
			closeRun()
			continue
		}
		if cur.first >= 0 && strings.TrimSpace(text[tokens[cur.last].end:t.start]) != "" {
			closeRun()
		}
		if cur.first < 0 {
			cur.first = i
		}
		cur.last = i
	}
	closeRun()

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].last-runs[i].first > runs[j].last-runs[j].first
	})
	return runs
}

func centroid(features []model.Feature) (lat, lon float64) {
	for _, f := range features {
		lat += f.Lat
		lon += f.Lon
	}
	n := float64(len(features))
	return lat / n, lon / n
}

// Lookup 查询单个地名: 先精确匹配地点，再按子串匹配地点，最后取兴趣点名称命中的质心
func (r *Resolver) Lookup(name string) (Resolution, bool) {
	key := strings.Join(normalize(name), " ")
	if key == "" {
		return Resolution{}, false
	}
	if idx, ok := r.byKey[key]; ok && idx >= 0 {
		p := r.names[idx].place
		return Resolution{Name: p.Name, Lat: p.Lat, Lon: p.Lon, Source: SourcePlace, Matches: 1}, true
	}
	for _, n := range r.names {
		if strings.Contains(n.key, key) {
			return Resolution{Name: n.place.Name, Lat: n.place.Lat, Lon: n.place.Lon, Source: SourcePlace, Matches: 1}, true
		}
	}
	if r.features == nil {
		return Resolution{}, false
	}
	hits := r.features.FeaturesByName(strings.TrimSpace(name), r.opts.LookupSampleLimit)
	if len(hits) == 0 {
		return Resolution{}, false
	}
	lat, lon := centroid(hits)
	return Resolution{Name: strings.TrimSpace(name), Lat: lat, Lon: lon, Source: SourceFeature, Matches: len(hits)}, true
}
