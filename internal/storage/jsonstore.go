// internal/storage/jsonstore.go
//
// JSON 快照的讀寫。
// 寫入採「暫存檔 + rename」：先在同一目錄寫完並 fsync 暫存檔，再以 os.Rename 取代正式檔，
// 中途失敗時原檔保持完整。
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CurrentVersion 為目前的快照格式版本。
const CurrentVersion = 2

// ErrNoSnapshot 代表快照檔不存在（首次啟動）。
var ErrNoSnapshot = errors.New("snapshot not found")

// LoadSnapshot 讀取並解析 path 的 JSON 快照。
// 檔案不存在時回傳 ErrNoSnapshot，呼叫端可據此以空白狀態啟動。
func LoadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, ErrNoSnapshot
		}
		return snap, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Meta.Version > CurrentVersion {
		return snap, fmt.Errorf("snapshot version %d is newer than supported %d", snap.Meta.Version, CurrentVersion)
	}
	return snap, nil
}

// SaveSnapshot 以原子方式將快照寫入 path。
func SaveSnapshot(path string, snap Snapshot) error {
	snap.Meta.Storage = "json_snapshot"
	snap.Meta.Version = CurrentVersion
	snap.Meta.Timestamp = time.Now().UTC()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	// rename 成功後 Remove 只會得到 not-exist 錯誤，可忽略
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
