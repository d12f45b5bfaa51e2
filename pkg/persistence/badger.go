package persistence

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// BadgerOptions 打开 Badger 的参数。
type BadgerOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; nil 时不加密
	ReadOnly      bool
}

// BadgerService Badger KV 持久化服务，所有 Store 共用一个 DB。
type BadgerService struct {
	db *badger.DB
}

// OpenBadger 打开（或创建）Badger 数据目录。
func OpenBadger(opts BadgerOptions) (*BadgerService, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("badger: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// 加密模式下 Badger 要求开启 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(err, "open badger %s", opts.Path)
	}
	log.Infof("📦 [persistence] Badger 已打开: %s (encrypted=%v)", opts.Path, len(opts.EncryptionKey) > 0)
	return &BadgerService{db: db}, nil
}

// NewStore 创建新的存储
func (s *BadgerService) NewStore(prefix, id, tag string) Store {
	return &BadgerStore{db: s.db, key: storeKey(prefix, id, tag)}
}

func (s *BadgerService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BadgerStore 一个 key 对应一份 JSON 文档。
type BadgerStore struct {
	db  *badger.DB
	key string
}

func (s *BadgerStore) Key() string { return s.key }

func (s *BadgerStore) Save(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", s.key)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(s.key), b)
	})
}

func (s *BadgerStore) Load(data interface{}) error {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotExists
	}
	if err != nil {
		return errors.Wrapf(err, "get %s", s.key)
	}
	if len(raw) == 0 {
		return ErrNotExists
	}
	return errors.Wrapf(json.Unmarshal(raw, data), "unmarshal %s", s.key)
}

// ParseKey expects 32 bytes (base64 or hex). Returns nil if input is empty.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, errors.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, errors.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
