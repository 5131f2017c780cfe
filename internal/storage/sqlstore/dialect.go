package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect 區分 SQL 方言；查詢一律以 ? 撰寫，執行前再依方言改寫。
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// Rebind 把 ? 佔位符改寫成方言的格式（Postgres 為 $1, $2, ...）。
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// lockRow 讓單列查詢在交易內取得列鎖。
// SQLite 以 IMMEDIATE 交易鎖住整個資料庫，不需要也不支援 FOR UPDATE。
func (d Dialect) lockRow(query string) string {
	if d == Postgres {
		return query + " FOR UPDATE"
	}
	return query
}
