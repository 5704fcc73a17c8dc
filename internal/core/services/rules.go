// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"rulekeeper/internal/config"
	"rulekeeper/internal/core/domain"
	"rulekeeper/internal/core/ports"
)

// DefaultLimit caps the number of items returned when the caller does
// not specify a limit
const DefaultLimit = 500

// RuleStore loads and queries the XML rule definitions of the managed
// installation. Query results for GetRules are cached with a short TTL
// because rule files only change on manager reconfiguration.
type RuleStore struct {
	manager  config.ManagerConfig
	cache    ports.CacheRepository // optional, may be nil
	cacheTTL time.Duration
}

// NewRuleStore creates a rule store. cache may be nil to disable caching.
func NewRuleStore(manager config.ManagerConfig, cache ports.CacheRepository, cacheTTL time.Duration) *RuleStore {
	return &RuleStore{
		manager:  manager,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// ============================================================================
// Query types
// ============================================================================

// RuleQuery carries the filters for GetRules
type RuleQuery struct {
	Status string // "enabled" | "disabled" | "all" | ""
	Group  string
	PCI    string
	File   string
	ID     int    // 0 = no filter
	Level  string // "7" or "2-4", empty = no filter
	Offset int
	Limit  int // 0 = DefaultLimit, negative = unlimited (internal use)
	Sort   string
	Search string
}

// FileQuery carries the filters for GetRuleFiles
type FileQuery struct {
	Status string
	Offset int
	Limit  int
	Sort   string
	Search string
}

// ListQuery carries the filters for the distinct-value listings
type ListQuery struct {
	Offset int
	Limit  int
	Sort   string // "+" (asc, default) or "-" (desc)
	Search string
}

// RulePage is a paginated rule listing
type RulePage struct {
	Items      []*domain.Rule `json:"items"`
	TotalItems int            `json:"totalItems"`
}

// FilePage is a paginated rule file listing
type FilePage struct {
	Items      []domain.RuleFile `json:"items"`
	TotalItems int               `json:"totalItems"`
}

// NamePage is a paginated listing of distinct names (groups, pci)
type NamePage struct {
	Items      []string `json:"items"`
	TotalItems int      `json:"totalItems"`
}

// ============================================================================
// Rule files
// ============================================================================

// GetRuleFiles lists the rule definition files together with their
// enabled/disabled status. A file is enabled when the manager
// configuration includes it.
func (s *RuleStore) GetRuleFiles(ctx context.Context, q FileQuery) (*FilePage, error) {
	status, err := checkStatus(q.Status)
	if err != nil {
		return nil, err
	}

	enabled, err := s.enabledFiles()
	if err != nil {
		return nil, err
	}

	var files []domain.RuleFile

	if status == domain.StatusEnabled {
		for _, name := range enabled {
			files = append(files, domain.RuleFile{Name: name, Status: domain.StatusEnabled})
		}
	} else {
		all, err := s.allRuleFiles()
		if err != nil {
			return nil, err
		}

		enabledSet := map[string]bool{}
		for _, name := range enabled {
			enabledSet[name] = true
		}

		// Everything on disk that the configuration does not include is disabled
		for _, name := range all {
			if !enabledSet[name] {
				files = append(files, domain.RuleFile{Name: name, Status: domain.StatusDisabled})
			}
		}

		if status == domain.StatusAll {
			for _, name := range enabled {
				files = append(files, domain.RuleFile{Name: name, Status: domain.StatusEnabled})
			}
		}
	}

	if q.Search != "" {
		value, negation := parseSearch(q.Search)
		filtered := files[:0]
		for _, f := range files {
			if matchesString(value, negation, f.Name, f.Status) {
				filtered = append(filtered, f)
			}
		}
		files = filtered
	}

	if err := sortRuleFiles(files, q.Sort); err != nil {
		return nil, err
	}

	total := len(files)
	files = cutFiles(files, q.Offset, q.Limit)
	if files == nil {
		files = []domain.RuleFile{}
	}
	return &FilePage{Items: files, TotalItems: total}, nil
}

// ============================================================================
// Rules
// ============================================================================

// GetRules loads every rule from the enabled and/or disabled rule
// files and applies the query filters. Results are served from the
// cache when an identical query was answered within the TTL.
func (s *RuleStore) GetRules(ctx context.Context, q RuleQuery) (*RulePage, error) {
	if _, err := checkStatus(q.Status); err != nil {
		return nil, err
	}

	var levelLow, levelHigh int
	hasLevel := false
	if q.Level != "" {
		var err error
		levelLow, levelHigh, err = parseLevelRange(q.Level)
		if err != nil {
			return nil, err
		}
		hasLevel = true
	}

	cacheKey := s.ruleCacheKey(q)
	if page := s.cachedPage(ctx, cacheKey); page != nil {
		return page, nil
	}

	fileList, err := s.GetRuleFiles(ctx, FileQuery{Status: q.Status, Limit: -1})
	if err != nil {
		return nil, err
	}

	var all []*domain.Rule
	for _, f := range fileList.Items {
		rules, err := s.loadRuleFile(f.Name, f.Status)
		if err != nil {
			return nil, err
		}
		all = append(all, rules...)
	}

	rules := make([]*domain.Rule, 0, len(all))
	for _, r := range all {
		switch {
		case q.Group != "" && !contains(r.Groups, q.Group):
		case q.PCI != "" && !contains(r.PCI, q.PCI):
		case q.File != "" && q.File != r.File:
		case q.ID != 0 && q.ID != r.ID:
		case hasLevel && (r.Level < levelLow || r.Level > levelHigh):
		default:
			rules = append(rules, r)
		}
	}

	if q.Search != "" {
		value, negation := parseSearch(q.Search)
		filtered := rules[:0]
		for _, r := range rules {
			if matchesString(value, negation, ruleSearchFields(r)...) {
				filtered = append(filtered, r)
			}
		}
		rules = filtered
	}

	if err := sortRules(rules, q.Sort); err != nil {
		return nil, err
	}

	total := len(rules)
	rules = cutRules(rules, q.Offset, q.Limit)
	if rules == nil {
		rules = []*domain.Rule{}
	}

	page := &RulePage{Items: rules, TotalItems: total}
	s.storePage(ctx, cacheKey, page)
	return page, nil
}

// GetGroups lists the distinct groups referenced by any rule
func (s *RuleStore) GetGroups(ctx context.Context, q ListQuery) (*NamePage, error) {
	return s.distinct(ctx, q, func(r *domain.Rule) []string { return r.Groups })
}

// GetPCI lists the distinct PCI-DSS requirements referenced by any rule
func (s *RuleStore) GetPCI(ctx context.Context, q ListQuery) (*NamePage, error) {
	return s.distinct(ctx, q, func(r *domain.Rule) []string { return r.PCI })
}

func (s *RuleStore) distinct(ctx context.Context, q ListQuery, pick func(*domain.Rule) []string) (*NamePage, error) {
	all, err := s.GetRules(ctx, RuleQuery{Limit: -1})
	if err != nil {
		return nil, err
	}

	set := map[string]bool{}
	for _, r := range all.Items {
		for _, name := range pick(r) {
			set[name] = true
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}

	if q.Search != "" {
		value, negation := parseSearch(q.Search)
		filtered := names[:0]
		for _, name := range names {
			if matchesString(value, negation, name) {
				filtered = append(filtered, name)
			}
		}
		names = filtered
	}

	desc := strings.HasPrefix(q.Sort, "-")
	sort.Strings(names)
	if desc {
		for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
			names[i], names[j] = names[j], names[i]
		}
	}

	total := len(names)
	names = cutStrings(names, q.Offset, q.Limit)
	if names == nil {
		names = []string{}
	}
	return &NamePage{Items: names, TotalItems: total}, nil
}

// ============================================================================
// Cache
// ============================================================================

func (s *RuleStore) ruleCacheKey(q RuleQuery) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s|%d|%d|%s|%s",
		q.Status, q.Group, q.PCI, q.File, q.ID, q.Level, q.Offset, q.Limit, q.Sort, q.Search)
	sum := sha256.Sum256([]byte(raw))
	return "rules:query:" + hex.EncodeToString(sum[:16])
}

func (s *RuleStore) cachedPage(ctx context.Context, key string) *RulePage {
	if s.cache == nil {
		return nil
	}

	data, err := s.cache.Get(ctx, key)
	if err != nil {
		// Cache failures degrade to a direct load
		slog.Warn("Rule cache lookup failed", "error", err, "key", key)
		return nil
	}
	if data == nil {
		return nil
	}

	var page RulePage
	if err := json.Unmarshal(data, &page); err != nil {
		slog.Warn("Rule cache entry is corrupt, ignoring", "error", err, "key", key)
		return nil
	}

	slog.Debug("Rule query served from cache", "key", key, "items", len(page.Items))
	return &page
}

func (s *RuleStore) storePage(ctx context.Context, key string, page *RulePage) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		slog.Warn("Failed to store rule query in cache", "error", err, "key", key)
	}
}

// ============================================================================
// XML loading
// ============================================================================

// ossec.conf: <ossec_config><rules><include>file.xml</include>...</rules></ossec_config>.
// The file may contain several top-level <ossec_config> blocks.
type confRoot struct {
	Configs []struct {
		Rules []struct {
			Include []string `xml:"include"`
		} `xml:"rules"`
	} `xml:"ossec_config"`
}

// enabledFiles reads the rule includes from the manager configuration
func (s *RuleStore) enabledFiles() ([]string, error) {
	data, err := os.ReadFile(s.manager.ConfPath())
	if err != nil {
		return nil, domain.NewCodedErrorf(domain.ErrCodeNoRulesConfig, "%s", s.manager.ConfPath())
	}

	var conf confRoot
	if err := xml.Unmarshal(wrapXML(data), &conf); err != nil {
		return nil, domain.NewCodedErrorf(domain.ErrCodeNoRulesConfig, "%s", err)
	}

	var includes []string
	for _, cfg := range conf.Configs {
		for _, rules := range cfg.Rules {
			for _, inc := range rules.Include {
				if name := strings.TrimSpace(inc); name != "" {
					includes = append(includes, name)
				}
			}
		}
	}

	if len(includes) == 0 {
		return nil, domain.NewCodedError(domain.ErrCodeNoRulesConfig)
	}
	return includes, nil
}

// allRuleFiles globs the rules directory for *_rules.xml files
func (s *RuleStore) allRuleFiles() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.manager.RulesPath(), "*_rules.xml"))
	if err != nil {
		return nil, domain.NewCodedErrorf(domain.ErrCodeRuleFileRead, "%s", err)
	}
	sort.Strings(paths)

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	return names, nil
}

type xmlRuleFile struct {
	Groups []xmlRuleGroup `xml:"group"`
}

type xmlRuleGroup struct {
	Name  string    `xml:"name,attr"`
	Rules []xmlRule `xml:"rule"`
}

type xmlRule struct {
	ID    int        `xml:"id,attr"`
	Level int        `xml:"level,attr"`
	Attrs []xml.Attr `xml:",any,attr"`
	Elems []xmlElem  `xml:",any"`
}

type xmlElem struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Value   string `xml:",chardata"`
}

// loadRuleFile parses one XML rule file into domain rules.
// Rule files are not single-rooted XML documents, so the content is
// wrapped in a synthetic root element before decoding.
func (s *RuleStore) loadRuleFile(name, status string) ([]*domain.Rule, error) {
	data, err := os.ReadFile(filepath.Join(s.manager.RulesPath(), name))
	if err != nil {
		return nil, domain.NewCodedErrorf(domain.ErrCodeRuleFileRead, "%s. Error: %s", name, err)
	}

	var root xmlRuleFile
	if err := xml.Unmarshal(wrapXML(data), &root); err != nil {
		return nil, domain.NewCodedErrorf(domain.ErrCodeRuleFileRead, "%s. Error: %s", name, err)
	}

	var rules []*domain.Rule
	for _, group := range root.Groups {
		generalGroups := strings.Split(group.Name, ",")

		for _, xr := range group.Rules {
			rule := domain.NewRule()
			rule.File = name
			rule.ID = xr.ID
			rule.Level = xr.Level
			rule.Status = status

			for _, attr := range xr.Attrs {
				rule.AddDetail(attr.Name.Local, attr.Value)
			}

			var groups []string
			for _, elem := range xr.Elems {
				tag := strings.ToLower(elem.XMLName.Local)
				switch tag {
				case "group":
					groups = append(groups, strings.Split(elem.Value, ",")...)
				case "description":
					rule.Description += elem.Value
				case "field":
					rule.AddDetail(elem.Name, elem.Value)
				default:
					rule.AddDetail(tag, elem.Value)
				}
			}

			groups = append(groups, generalGroups...)

			// pci_dss_ prefixed groups form the separate PCI requirement list
			var pciGroups, plainGroups []string
			for _, g := range groups {
				if trimmed := strings.TrimSpace(g); strings.HasPrefix(trimmed, "pci_dss_") {
					pciGroups = append(pciGroups, strings.TrimPrefix(trimmed, "pci_dss_"))
				} else {
					plainGroups = append(plainGroups, g)
				}
			}

			rule.SetGroup(plainGroups...)
			rule.SetPCI(pciGroups...)
			rules = append(rules, rule)
		}
	}

	return rules, nil
}

// wrapXML makes a rule file parseable as a single XML document. Double
// hyphens inside comment text are legal in the rule files but not in
// XML, so they are masked before decoding.
func wrapXML(data []byte) []byte {
	sanitized := strings.ReplaceAll(string(data), " -- ", " -INVALID_CHAR ")
	return []byte("<root_tag>" + sanitized + "</root_tag>")
}

// ============================================================================
// Filtering, sorting, pagination helpers
// ============================================================================

// checkStatus validates the status filter, defaulting to "all"
func checkStatus(status string) (string, error) {
	switch status {
	case "":
		return domain.StatusAll, nil
	case domain.StatusAll, domain.StatusEnabled, domain.StatusDisabled:
		return status, nil
	default:
		return "", domain.NewCodedError(domain.ErrCodeInvalidStatus)
	}
}

// parseLevelRange parses "7" or "2-4" into an inclusive range
func parseLevelRange(level string) (int, int, error) {
	parts := strings.Split(level, "-")
	if len(parts) > 2 {
		return 0, 0, domain.NewCodedError(domain.ErrCodeInvalidLevel)
	}

	low, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, domain.NewCodedError(domain.ErrCodeInvalidLevel)
	}

	high := low
	if len(parts) == 2 {
		high, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, domain.NewCodedError(domain.ErrCodeInvalidLevel)
		}
	}
	return low, high, nil
}

// parseSearch splits a search parameter into its value and negation
// flag. A leading '!' negates the match.
func parseSearch(search string) (string, bool) {
	if strings.HasPrefix(search, "!") {
		return strings.TrimPrefix(search, "!"), true
	}
	return search, false
}

// matchesString reports whether any field contains the search value,
// honoring negation
func matchesString(value string, negation bool, fields ...string) bool {
	found := false
	lower := strings.ToLower(value)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), lower) {
			found = true
			break
		}
	}
	if negation {
		return !found
	}
	return found
}

// ruleSearchFields flattens a rule into the strings the search filter
// scans
func ruleSearchFields(r *domain.Rule) []string {
	fields := []string{r.File, r.Description, r.Status, strconv.Itoa(r.ID), strconv.Itoa(r.Level)}
	fields = append(fields, r.Groups...)
	fields = append(fields, r.PCI...)
	for name, v := range r.Details {
		fields = append(fields, name)
		switch val := v.(type) {
		case string:
			fields = append(fields, val)
		case []string:
			fields = append(fields, val...)
		}
	}
	return fields
}

type sortKey struct {
	field string
	desc  bool
}

// parseSort parses "+field,-field" specs against a field whitelist
func parseSort(spec string, allowed []string) ([]sortKey, error) {
	if spec == "" {
		return nil, nil
	}

	var keys []sortKey
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key := sortKey{}
		switch part[0] {
		case '-':
			key.desc = true
			part = part[1:]
		case '+':
			part = part[1:]
		}

		ok := false
		for _, f := range allowed {
			if f == part {
				ok = true
				break
			}
		}
		if !ok {
			return nil, domain.NewCodedErrorf(domain.ErrCodeInvalidField, "'%s'", part)
		}
		keys = append(keys, sortKey{field: part, desc: key.desc})
	}
	return keys, nil
}

// sortRules orders rules per the sort spec, defaulting to ascending id
func sortRules(rules []*domain.Rule, spec string) error {
	keys, err := parseSort(spec, domain.SortFields)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		keys = []sortKey{{field: "id"}}
	}

	sort.SliceStable(rules, func(i, j int) bool {
		for _, key := range keys {
			cmp := compareRules(rules[i], rules[j], key.field)
			if cmp == 0 {
				continue
			}
			if key.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

func compareRules(a, b *domain.Rule, field string) int {
	switch field {
	case "id":
		return a.ID - b.ID
	case "level":
		return a.Level - b.Level
	case "file":
		return strings.Compare(a.File, b.File)
	case "description":
		return strings.Compare(a.Description, b.Description)
	case "status":
		return strings.Compare(a.Status, b.Status)
	}
	return 0
}

// sortRuleFiles orders rule files per the sort spec, defaulting to
// ascending name
func sortRuleFiles(files []domain.RuleFile, spec string) error {
	keys, err := parseSort(spec, []string{"name", "status"})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		keys = []sortKey{{field: "name"}}
	}

	sort.SliceStable(files, func(i, j int) bool {
		for _, key := range keys {
			var cmp int
			if key.field == "name" {
				cmp = strings.Compare(files[i].Name, files[j].Name)
			} else {
				cmp = strings.Compare(files[i].Status, files[j].Status)
			}
			if cmp == 0 {
				continue
			}
			if key.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

// cutRules applies offset/limit pagination. Limit 0 falls back to
// DefaultLimit; a negative limit disables the cap.
func cutRules(items []*domain.Rule, offset, limit int) []*domain.Rule {
	lo, hi := cutBounds(len(items), offset, limit)
	return items[lo:hi]
}

func cutFiles(items []domain.RuleFile, offset, limit int) []domain.RuleFile {
	lo, hi := cutBounds(len(items), offset, limit)
	return items[lo:hi]
}

func cutStrings(items []string, offset, limit int) []string {
	lo, hi := cutBounds(len(items), offset, limit)
	return items[lo:hi]
}

func cutBounds(total, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 {
		return offset, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}

// contains reports whether list holds item
func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
