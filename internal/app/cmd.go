package app

import "os"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は端末のアプリコアとして起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はメンテナンスジョブを実行するワーカーモードを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCheck はバックエンドへの接続確認を行うことを示す。
	CommandCheck Command = "check"
	// CommandSeed はテスト用の所持品を登録することを示す。
	CommandSeed Command = "seed"
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
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "check":
		return CommandCheck
	case "seed":
		return CommandSeed
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// SeedEmail はseedコマンドの対象メールアドレスを返す。
// 引数で指定されなければ環境変数SEED_EMAILを使う。
func SeedEmail(args []string) string {
	if len(args) > 1 && args[0] == string(CommandSeed) {
		return args[1]
	}
	return os.Getenv("SEED_EMAIL")
}
