package cache

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metacubex/bbolt"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"substarter/backend/domain"
	"substarter/backend/service/shared"
)

var (
	fileMode os.FileMode = 0o600

	bucketProfiles = []byte("profiles")
	bucketCatalog  = []byte("catalog")

	keyProxies = []byte("proxies")
	keyGroups  = []byte("groups")
	keyNodes   = []byte("nodes")
	keyRaw     = []byte("raw")
)

// ErrClosed 缓存未打开
var ErrClosed = errors.New("cache is not open")

// Store 订阅解析产物与聚合目录的持久化缓存。
//
// 每个订阅占用 profiles 桶下以订阅 ID 命名的子桶，
// 其中 proxies / groups 以 YAML 存储，nodes 以 msgpack 存储，raw 为最近一次原文。
type Store struct {
	db *bbolt.DB
}

// Open 打开（必要时创建）缓存文件；文件损坏时删除重建
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	options := bbolt.Options{Timeout: time.Second}
	db, err := bbolt.Open(path, fileMode, &options)
	switch err {
	case bbolt.ErrInvalid, bbolt.ErrChecksum, bbolt.ErrVersionMismatch:
		if err = os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove invalid cache file: %w", err)
		}
		logrus.Infof("[Cache] 缓存文件损坏，已删除并重建: %s", path)
		db, err = bbolt.Open(path, fileMode, &options)
	}
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭缓存文件
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path 缓存文件路径
func (s *Store) Path() string {
	if s == nil || s.db == nil {
		return ""
	}
	return s.db.Path()
}

// Save 在同一事务内写入订阅的 proxies / groups / nodes
func (s *Store) Save(profileID string, result domain.ParseResult) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	artifacts, err := encodeArtifacts(result.Proxies, result.Groups, result.Nodes)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := profileBucket(tx, profileID)
		if err != nil {
			return err
		}
		return putAll(b, artifacts)
	})
}

// Load 读取订阅的全部解析产物；缺失部分视为空
func (s *Store) Load(profileID string) (domain.ParseResult, error) {
	out := domain.ParseResult{}
	err := s.view(func(tx *bbolt.Tx) error {
		b := existingProfileBucket(tx, profileID)
		var err error
		out.Proxies, out.Groups, out.Nodes, err = decodeArtifacts(b)
		return err
	})
	return out, err
}

// LoadProxies 读取缓存的代理记录
func (s *Store) LoadProxies(profileID string) ([]*domain.Map, error) {
	var out []*domain.Map
	err := s.view(func(tx *bbolt.Tx) error {
		var err error
		out, err = decodeMaps(get(existingProfileBucket(tx, profileID), keyProxies))
		return err
	})
	return out, err
}

// LoadGroups 读取缓存的代理组
func (s *Store) LoadGroups(profileID string) ([]*domain.Map, error) {
	var out []*domain.Map
	err := s.view(func(tx *bbolt.Tx) error {
		var err error
		out, err = decodeMaps(get(existingProfileBucket(tx, profileID), keyGroups))
		return err
	})
	return out, err
}

// LoadNodes 读取缓存的展示节点
func (s *Store) LoadNodes(profileID string) ([]domain.DisplayNode, error) {
	var out []domain.DisplayNode
	err := s.view(func(tx *bbolt.Tx) error {
		var err error
		out, err = decodeNodes(get(existingProfileBucket(tx, profileID), keyNodes))
		return err
	})
	return out, err
}

// SaveRaw 保存最近一次下载或编辑的原文
func (s *Store) SaveRaw(profileID, text string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := profileBucket(tx, profileID)
		if err != nil {
			return err
		}
		return b.Put(keyRaw, []byte(text))
	})
}

// LoadRaw 读取原文，不存在时返回空串
func (s *Store) LoadRaw(profileID string) (string, error) {
	var out string
	err := s.view(func(tx *bbolt.Tx) error {
		out = string(get(existingProfileBucket(tx, profileID), keyRaw))
		return nil
	})
	return out, err
}

// Remove 删除订阅的全部缓存；不存在时不报错
func (s *Store) Remove(profileID string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketProfiles)
		if root == nil || root.Bucket([]byte(profileID)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(profileID))
	})
}

// ProfileIDs 列出已有缓存的订阅 ID
func (s *Store) ProfileIDs() ([]string, error) {
	var ids []string
	err := s.view(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketProfiles)
		if root == nil {
			return nil
		}
		return root.ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

// Prune 删除不在 keep 中的订阅缓存，返回删除数量
func (s *Store) Prune(keep []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketProfiles)
		if root == nil {
			return nil
		}
		// 遍历期间不能修改桶，先收集再删除
		var stale [][]byte
		if err := root.ForEach(func(k, v []byte) error {
			if _, ok := keepSet[string(k)]; !ok && v == nil {
				stale = append(stale, bytes.Clone(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := root.DeleteBucket(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if removed > 0 && err == nil {
		logrus.Infof("[Cache] 已清理 %d 个孤立订阅缓存", removed)
	}
	return removed, err
}

// SaveCatalog 覆盖写入全局聚合目录
func (s *Store) SaveCatalog(cat domain.Catalog) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	artifacts, err := encodeArtifacts(cat.Proxies, cat.Groups, cat.Nodes)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketCatalog)
		if err != nil {
			return err
		}
		return putAll(b, artifacts)
	})
}

// LoadCatalog 读取全局聚合目录；尚未生成时返回空目录
func (s *Store) LoadCatalog() (domain.Catalog, error) {
	out := domain.Catalog{}
	err := s.view(func(tx *bbolt.Tx) error {
		var err error
		out.Proxies, out.Groups, out.Nodes, err = decodeArtifacts(tx.Bucket(bucketCatalog))
		return err
	})
	return out, err
}

// CatalogBytes 聚合目录的序列化字节（proxies、groups、nodes 依次拼接）
func (s *Store) CatalogBytes() ([]byte, error) {
	var out []byte
	err := s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		for _, key := range [][]byte{keyProxies, keyGroups, keyNodes} {
			out = append(out, get(b, key)...)
		}
		return nil
	})
	return out, err
}

// CatalogDigest 聚合目录内容的 sha256
func (s *Store) CatalogDigest() (string, error) {
	data, err := s.CatalogBytes()
	if err != nil {
		return "", err
	}
	return shared.ChecksumBytes(data), nil
}

func (s *Store) view(fn func(tx *bbolt.Tx) error) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.View(fn)
}

func profileBucket(tx *bbolt.Tx, profileID string) (*bbolt.Bucket, error) {
	if profileID == "" {
		return nil, errors.New("empty profile id")
	}
	root, err := tx.CreateBucketIfNotExists(bucketProfiles)
	if err != nil {
		return nil, err
	}
	return root.CreateBucketIfNotExists([]byte(profileID))
}

func existingProfileBucket(tx *bbolt.Tx, profileID string) *bbolt.Bucket {
	root := tx.Bucket(bucketProfiles)
	if root == nil || profileID == "" {
		return nil
	}
	return root.Bucket([]byte(profileID))
}

// get 读取键值并复制；bbolt 返回的切片只在事务内有效
func get(b *bbolt.Bucket, key []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b.Get(key))
}

type artifacts struct {
	proxies, groups, nodes []byte
}

func encodeArtifacts(proxies, groups []*domain.Map, nodes []domain.DisplayNode) (artifacts, error) {
	var out artifacts
	var err error
	if out.proxies, err = domain.EncodeYAML(domain.Maps(proxies)); err != nil {
		return out, fmt.Errorf("encode proxies: %w", err)
	}
	if out.groups, err = domain.EncodeYAML(domain.Maps(groups)); err != nil {
		return out, fmt.Errorf("encode groups: %w", err)
	}
	if nodes == nil {
		nodes = []domain.DisplayNode{}
	}
	if out.nodes, err = msgpack.Marshal(nodes); err != nil {
		return out, fmt.Errorf("encode nodes: %w", err)
	}
	return out, nil
}

func putAll(b *bbolt.Bucket, a artifacts) error {
	if err := b.Put(keyProxies, a.proxies); err != nil {
		return err
	}
	if err := b.Put(keyGroups, a.groups); err != nil {
		return err
	}
	return b.Put(keyNodes, a.nodes)
}

func decodeArtifacts(b *bbolt.Bucket) ([]*domain.Map, []*domain.Map, []domain.DisplayNode, error) {
	proxies, err := decodeMaps(get(b, keyProxies))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode proxies: %w", err)
	}
	groups, err := decodeMaps(get(b, keyGroups))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode groups: %w", err)
	}
	nodes, err := decodeNodes(get(b, keyNodes))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode nodes: %w", err)
	}
	return proxies, groups, nodes, nil
}

func decodeMaps(data []byte) ([]*domain.Map, error) {
	out := []*domain.Map{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	v, err := domain.DecodeYAML(data)
	if err != nil {
		return out, err
	}
	for _, item := range v.List() {
		if m := item.Map(); m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func decodeNodes(data []byte) ([]domain.DisplayNode, error) {
	out := []domain.DisplayNode{}
	if len(data) == 0 {
		return out, nil
	}
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return []domain.DisplayNode{}, err
	}
	return out, nil
}
