package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulekeeper/internal/config"
	"rulekeeper/internal/core/domain"
)

// ============================================================================
// Fixtures
// ============================================================================

const syslogRules = `<group name="syslog,">
  <rule id="1001" level="2">
    <category>syslog</category>
    <description>Generic template for system messages.</description>
  </rule>
  <rule id="1002" level="7" maxsize="300">
    <description>Unknown problem somewhere in the system.</description>
    <group>errors,</group>
  </rule>
</group>
<!-- trailing comment with a -- marker inside -->
`

const authRules = `<group name="authentication,">
  <rule id="2501" level="5">
    <description>User authentication failure.</description>
    <group>authentication_failed,pci_dss_10.2.4,pci_dss_10.2.5,</group>
    <field name="user">root</field>
    <match>authentication failure</match>
    <match>login failed</match>
  </rule>
  <rule id="2502" level="10">
    <description>Multiple failed logins.</description>
    <if_matched_sid>2501</if_matched_sid>
    <group>authentication_failures,pci_dss_10.2.4,</group>
  </rule>
</group>
`

const extraRules = `<group name="local,">
  <rule id="100001" level="3">
    <description>Custom local rule.</description>
  </rule>
</group>
`

const ossecConf = `<ossec_config>
  <rules>
    <include>syslog_rules.xml</include>
    <include>auth_rules.xml</include>
  </rules>
</ossec_config>
`

// newTestStore builds a manager installation in a temp dir:
// two enabled rule files, one present-but-not-included (disabled)
func newTestStore(t *testing.T) *RuleStore {
	t.Helper()

	install := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(install, "etc"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(install, "rules"), 0o755))

	write := func(rel, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(install, rel), []byte(content), 0o644))
	}
	write(filepath.Join("etc", "ossec.conf"), ossecConf)
	write(filepath.Join("rules", "syslog_rules.xml"), syslogRules)
	write(filepath.Join("rules", "auth_rules.xml"), authRules)
	write(filepath.Join("rules", "extra_rules.xml"), extraRules)

	return NewRuleStore(config.ManagerConfig{InstallPath: install}, nil, time.Minute)
}

// ============================================================================
// Rule file listing
// ============================================================================

func TestGetRuleFilesAll(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRuleFiles(context.Background(), FileQuery{})
	require.NoError(t, err)

	assert.Equal(t, 3, page.TotalItems)

	byName := map[string]string{}
	for _, f := range page.Items {
		byName[f.Name] = f.Status
	}
	assert.Equal(t, domain.StatusEnabled, byName["syslog_rules.xml"])
	assert.Equal(t, domain.StatusEnabled, byName["auth_rules.xml"])
	assert.Equal(t, domain.StatusDisabled, byName["extra_rules.xml"])
}

func TestGetRuleFilesByStatus(t *testing.T) {
	store := newTestStore(t)

	enabled, err := store.GetRuleFiles(context.Background(), FileQuery{Status: domain.StatusEnabled})
	require.NoError(t, err)
	assert.Equal(t, 2, enabled.TotalItems)

	disabled, err := store.GetRuleFiles(context.Background(), FileQuery{Status: domain.StatusDisabled})
	require.NoError(t, err)
	require.Equal(t, 1, disabled.TotalItems)
	assert.Equal(t, "extra_rules.xml", disabled.Items[0].Name)
}

func TestGetRuleFilesInvalidStatus(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRuleFiles(context.Background(), FileQuery{Status: "bogus"})
	require.Error(t, err)

	var coded *domain.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, domain.ErrCodeInvalidStatus, coded.Code)
}

func TestGetRuleFilesSortedByNameByDefault(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRuleFiles(context.Background(), FileQuery{})
	require.NoError(t, err)

	require.Len(t, page.Items, 3)
	assert.Equal(t, "auth_rules.xml", page.Items[0].Name)
	assert.Equal(t, "extra_rules.xml", page.Items[1].Name)
	assert.Equal(t, "syslog_rules.xml", page.Items[2].Name)
}

func TestGetRuleFilesMissingConf(t *testing.T) {
	install := t.TempDir()
	store := NewRuleStore(config.ManagerConfig{InstallPath: install}, nil, time.Minute)

	_, err := store.GetRuleFiles(context.Background(), FileQuery{})
	require.Error(t, err)

	var coded *domain.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, domain.ErrCodeNoRulesConfig, coded.Code)
}

// ============================================================================
// Rule parsing
// ============================================================================

func TestGetRulesParsesRuleFields(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{ID: 2501})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalItems)

	rule := page.Items[0]
	assert.Equal(t, "auth_rules.xml", rule.File)
	assert.Equal(t, 2501, rule.ID)
	assert.Equal(t, 5, rule.Level)
	assert.Equal(t, domain.StatusEnabled, rule.Status)
	assert.Equal(t, "User authentication failure.", rule.Description)

	// Groups: rule groups plus the enclosing <group name=...>, PCI split out
	assert.ElementsMatch(t, []string{"authentication_failed", "authentication"}, rule.Groups)
	assert.ElementsMatch(t, []string{"10.2.4", "10.2.5"}, rule.PCI)

	// <field name="user"> and repeated <match> become details
	assert.Equal(t, "root", rule.Details["user"])
	assert.Equal(t, []string{"authentication failure", "login failed"}, rule.Details["match"])
}

func TestGetRulesParsesExtraAttributes(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{ID: 1002})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalItems)

	// Attributes other than id/level land in details
	assert.Equal(t, "300", page.Items[0].Details["maxsize"])
}

func TestGetRulesIncludesDisabledFiles(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{ID: 100001})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalItems)
	assert.Equal(t, domain.StatusDisabled, page.Items[0].Status)
}

// ============================================================================
// Filters
// ============================================================================

func TestGetRulesFilterByGroup(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{Group: "authentication_failed"})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalItems)
	assert.Equal(t, 2501, page.Items[0].ID)
}

func TestGetRulesFilterByPCI(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{PCI: "10.2.4"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalItems)
}

func TestGetRulesFilterByFile(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{File: "syslog_rules.xml"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalItems)
}

func TestGetRulesFilterByLevel(t *testing.T) {
	store := newTestStore(t)

	single, err := store.GetRules(context.Background(), RuleQuery{Level: "7"})
	require.NoError(t, err)
	require.Equal(t, 1, single.TotalItems)
	assert.Equal(t, 1002, single.Items[0].ID)

	ranged, err := store.GetRules(context.Background(), RuleQuery{Level: "2-5"})
	require.NoError(t, err)
	assert.Equal(t, 3, ranged.TotalItems) // levels 2, 5 and 3
}

func TestGetRulesInvalidLevel(t *testing.T) {
	store := newTestStore(t)

	for _, level := range []string{"abc", "1-2-3", "1-x"} {
		_, err := store.GetRules(context.Background(), RuleQuery{Level: level})
		require.Error(t, err, "level %q", level)

		var coded *domain.CodedError
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, domain.ErrCodeInvalidLevel, coded.Code)
	}
}

// ============================================================================
// Search / sort / pagination
// ============================================================================

func TestGetRulesSearch(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{Search: "authentication"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalItems)
}

func TestGetRulesSearchNegation(t *testing.T) {
	store := newTestStore(t)

	all, err := store.GetRules(context.Background(), RuleQuery{})
	require.NoError(t, err)

	negated, err := store.GetRules(context.Background(), RuleQuery{Search: "!authentication"})
	require.NoError(t, err)
	assert.Equal(t, all.TotalItems-2, negated.TotalItems)
}

func TestGetRulesDefaultSortByID(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{})
	require.NoError(t, err)

	for i := 1; i < len(page.Items); i++ {
		assert.LessOrEqual(t, page.Items[i-1].ID, page.Items[i].ID)
	}
}

func TestGetRulesSortByLevelDescending(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{Sort: "-level"})
	require.NoError(t, err)

	require.NotEmpty(t, page.Items)
	assert.Equal(t, 10, page.Items[0].Level)
}

func TestGetRulesInvalidSortField(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRules(context.Background(), RuleQuery{Sort: "bogus"})
	require.Error(t, err)

	var coded *domain.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, domain.ErrCodeInvalidField, coded.Code)
}

func TestGetRulesPagination(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{Offset: 1, Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, page.TotalItems) // totalItems ignores the limit
	require.Len(t, page.Items, 2)
	assert.Equal(t, 1002, page.Items[0].ID)
	assert.Equal(t, 2501, page.Items[1].ID)
}

func TestGetRulesOffsetPastEnd(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetRules(context.Background(), RuleQuery{Offset: 100})
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalItems)
	assert.Empty(t, page.Items)
}

// ============================================================================
// Distinct listings
// ============================================================================

func TestGetGroups(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetGroups(context.Background(), ListQuery{})
	require.NoError(t, err)

	assert.Contains(t, page.Items, "syslog")
	assert.Contains(t, page.Items, "authentication")
	assert.Contains(t, page.Items, "authentication_failed")
	assert.Contains(t, page.Items, "errors")
	assert.Contains(t, page.Items, "local")
	// PCI tags never leak into the group listing
	assert.NotContains(t, page.Items, "pci_dss_10.2.4")

	// Sorted ascending by default
	for i := 1; i < len(page.Items); i++ {
		assert.LessOrEqual(t, page.Items[i-1], page.Items[i])
	}
}

func TestGetPCI(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetPCI(context.Background(), ListQuery{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"10.2.4", "10.2.5"}, page.Items)
	assert.Equal(t, 2, page.TotalItems)
}

func TestGetGroupsDescending(t *testing.T) {
	store := newTestStore(t)

	page, err := store.GetGroups(context.Background(), ListQuery{Sort: "-"})
	require.NoError(t, err)

	for i := 1; i < len(page.Items); i++ {
		assert.GreaterOrEqual(t, page.Items[i-1], page.Items[i])
	}
}

// ============================================================================
// Cache behavior
// ============================================================================

// memoryCache is an in-process CacheRepository for testing cache-aside
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	hits    int
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	data, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	c.hits++
	return data, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = value
	return nil
}

func TestGetRulesUsesCache(t *testing.T) {
	store := newTestStore(t)
	cache := newMemoryCache()
	store.cache = cache

	first, err := store.GetRules(context.Background(), RuleQuery{Group: "syslog"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 0, cache.hits)

	second, err := store.GetRules(context.Background(), RuleQuery{Group: "syslog"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits, "identical query is served from cache")
	assert.Equal(t, 1, cache.sets, "cache hit does not re-store")

	assert.Equal(t, first.TotalItems, second.TotalItems)
	require.Len(t, second.Items, len(first.Items))
	assert.Equal(t, first.Items[0].ID, second.Items[0].ID)
}

func TestGetRulesDifferentQueriesDifferentCacheKeys(t *testing.T) {
	store := newTestStore(t)
	cache := newMemoryCache()
	store.cache = cache

	_, err := store.GetRules(context.Background(), RuleQuery{Group: "syslog"})
	require.NoError(t, err)
	_, err = store.GetRules(context.Background(), RuleQuery{Group: "errors"})
	require.NoError(t, err)

	assert.Len(t, cache.entries, 2)
}
