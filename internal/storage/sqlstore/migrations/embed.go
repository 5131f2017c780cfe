// Package migrations 內嵌各資料庫方言的 schema 遷移檔。
package migrations

import "embed"

// FS 依方言分目錄：sqlite/ 與 postgres/。
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
