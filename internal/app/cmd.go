package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandAuthorize はクレデンシャルスロットのデバイス認可を対話的に行うことを示す。
	CommandAuthorize Command = "authorize"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "authorize":
		return CommandAuthorize
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ParseSlotArg はauthorizeサブコマンドのスロット番号を解析する。
// 省略時はスロット1。1からslotCountの範囲外はエラーを返す。
func ParseSlotArg(args []string, slotCount int) (int, error) {
	if len(args) < 2 {
		return 1, nil
	}

	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid credential slot %q: %w", args[1], err)
	}
	if slot < 1 || slot > slotCount {
		return 0, fmt.Errorf("credential slot %d out of range (1-%d)", slot, slotCount)
	}
	return slot, nil
}
