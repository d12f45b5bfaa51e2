package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// JSONFileService 基于 JSON 文件的持久化服务
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{
		baseDir: baseDir,
	}
}

// NewStore 创建新的存储
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &JSONFileStore{
		service: s,
		key:     storeKey(prefix, id, tag),
	}
}

// Close 文件后端无需关闭。
func (s *JSONFileService) Close() error { return nil }

// JSONFileStore JSON 文件存储实现
type JSONFileStore struct {
	service *JSONFileService
	key     string
}

func (s *JSONFileStore) Key() string { return s.key }

// Path 文件名由 key 安全化得到。
func (s *JSONFileStore) Path() string {
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

// Save 原子写入：tmp 文件 fsync 后 rename，崩溃时旧文件保持完整。
func (s *JSONFileStore) Save(data interface{}) error {
	log.Debugf("[persistence] Save: key=%s", s.key)
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir")
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal %s", s.key)
	}

	path := s.Path()
	tmp, err := os.CreateTemp(s.service.baseDir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "rename")
}

// Load 加载数据
func (s *JSONFileStore) Load(data interface{}) error {
	log.Debugf("[persistence] Load: key=%s", s.key)
	b, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return errors.Wrapf(err, "read %s", s.key)
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return errors.Wrapf(json.Unmarshal(b, data), "unmarshal %s", s.key)
}
