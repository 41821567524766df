package catalog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"go.uber.org/zap"
)

const metadataFile = "metadata.json"

// CategoryMeta 分类元数据
type CategoryMeta struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Icon        string   `json:"icon"`
	Description string   `json:"description"`
	Count       int      `json:"count"`
	Examples    []string `json:"examples"`
}

// Metadata 分类索引文件
type Metadata struct {
	Categories []CategoryMeta `json:"categories"`
}

// rawCard 文件中的卡牌，ID可能是字符串或数字
type rawCard struct {
	ID       json.RawMessage `json:"id"`
	Text     string          `json:"text"`
	Category string          `json:"category"`
}

type idKind int

const (
	idString idKind = iota + 1
	idNumber
)

// LoadMetadata 读取分类索引
func LoadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCatalogLoad, "读取分类索引失败")
	}
	meta := &Metadata{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCatalogLoad, "解析分类索引失败")
	}
	return meta, nil
}

// Load 加载并合并指定分类。分类目录没有索引文件时回退到单文件旧格式。
// categoryIDs 为空时加载索引中列出的全部分类。
func Load(dir, legacyFile string, categoryIDs []string, opts ...Option) (*Catalog, error) {
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err != nil {
		if legacyFile == "" {
			return nil, apperrors.Wrap(err, apperrors.ErrCatalogLoad, "分类索引不存在且未配置旧格式文件")
		}
		cards, _, err := readCardFile(legacyFile, "default")
		if err != nil {
			return nil, err
		}
		return New(cards, opts...)
	}

	if len(categoryIDs) == 0 {
		meta, err := LoadMetadata(dir)
		if err != nil {
			return nil, err
		}
		for _, c := range meta.Categories {
			categoryIDs = append(categoryIDs, c.ID)
		}
	}

	var all []Card
	var kind idKind
	seen := make(map[string]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !validCategoryID(id) {
			return nil, apperrors.Newf(apperrors.ErrCatalogLoad, "非法分类ID: %q", id)
		}
		cards, k, err := readCardFile(filepath.Join(dir, id+".json"), id)
		if err != nil {
			return nil, err
		}
		// 合并后的卡组同样不能混用两种ID
		if kind == 0 {
			kind = k
		} else if k != 0 && k != kind {
			return nil, apperrors.Newf(apperrors.ErrCatalogLoad, "分类 %s 的ID类型与其他分类不一致", id)
		}
		all = append(all, cards...)
	}
	return New(all, opts...)
}

// readCardFile 读取一个分类文件，将ID规范为字符串，并返回文件使用的ID类型。
// 同一文件混用字符串与数字ID时拒绝加载。
func readCardFile(path, category string) ([]Card, idKind, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, apperrors.Wrapf(err, apperrors.ErrCatalogLoad, "读取卡牌文件失败: %s", path)
	}

	var raw []rawCard
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, apperrors.Wrapf(err, apperrors.ErrCatalogLoad, "解析卡牌文件失败: %s", path)
	}

	cards := make([]Card, 0, len(raw))
	var kind idKind
	for i, rc := range raw {
		id, k, err := canonicalID(rc.ID)
		if err != nil {
			return nil, 0, apperrors.Newf(apperrors.ErrCatalogLoad, "%s 第%d张卡: %v", path, i, err)
		}
		if kind == 0 {
			kind = k
		} else if kind != k {
			return nil, 0, apperrors.Newf(apperrors.ErrCatalogLoad, "%s 混用字符串与数字ID", path)
		}
		cat := rc.Category
		if cat == "" {
			cat = category
		}
		cards = append(cards, Card{ID: id, Text: rc.Text, Category: cat})
	}
	return cards, kind, nil
}

func canonicalID(raw json.RawMessage) (string, idKind, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", 0, errMissingID
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", 0, err
		}
		if s == "" {
			return "", 0, errMissingID
		}
		return s, idString, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return "", 0, err
	}
	return strconv.FormatInt(n, 10), idNumber, nil
}

var errMissingID = apperrors.New(apperrors.ErrCatalogLoad, "缺少卡牌ID")

func validCategoryID(id string) bool {
	if id == "" || strings.Contains(id, "..") {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

// Library 按分类组合缓存已加载的目录
type Library struct {
	dir        string
	legacyFile string
	defaults   []string
	opts       []Option
	logger     *zap.Logger

	mu       sync.Mutex
	catalogs map[string]*Catalog
}

// NewLibrary 创建目录库
func NewLibrary(dir, legacyFile string, defaultCategories []string, logger *zap.Logger, opts ...Option) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		dir:        dir,
		legacyFile: legacyFile,
		defaults:   defaultCategories,
		opts:       append(opts, WithLogger(logger)),
		logger:     logger,
		catalogs:   make(map[string]*Catalog),
	}
}

// Get 获取分类组合对应的目录，首次访问时加载
func (l *Library) Get(categories []string) (*Catalog, error) {
	if len(categories) == 0 {
		categories = l.defaults
	}
	key := libraryKey(categories)

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.catalogs[key]; ok {
		return c, nil
	}
	c, err := Load(l.dir, l.legacyFile, categories, l.opts...)
	if err != nil {
		return nil, err
	}
	l.catalogs[key] = c
	l.logger.Info("卡牌目录已加载",
		zap.Strings("categories", categories),
		zap.Int("cards", c.Len()))
	return c, nil
}

// Metadata 读取分类索引，没有索引时返回只含默认分类的索引
func (l *Library) Metadata() (*Metadata, error) {
	meta, err := LoadMetadata(l.dir)
	if err == nil {
		return meta, nil
	}
	c, lerr := l.Get(nil)
	if lerr != nil {
		return nil, err
	}
	return &Metadata{Categories: []CategoryMeta{{ID: "default", Name: "Default", Count: c.Len()}}}, nil
}

func libraryKey(categories []string) string {
	sorted := append([]string(nil), categories...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
