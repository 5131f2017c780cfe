package config

import (
	"fmt"
	"os"
)

// Exitf 把錯誤訊息寫到 stderr 並以代碼 1 結束，供 cmd 進入點使用。
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
