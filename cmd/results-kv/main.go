// results-kv：结果表维护工具，供 POST /datasource {"dataset": ...} 读取
package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"incident-map/internal/config"
	"incident-map/internal/migrate"
	"incident-map/internal/utils"
)

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  set <dataset> <region_key> <measure> [description]")
	fmt.Println("  del <dataset> <region_key>")
	fmt.Println("  get <dataset> <region_key>")
	fmt.Println("  list <dataset> [limit]")
	fmt.Println("  datasets")
	fmt.Println("  help")
	fmt.Println("  exit")
}

// run：执行一条命令；返回 false 表示退出
func run(ctx context.Context, db *sql.DB, parts []string) bool {
	switch strings.ToLower(parts[0]) {
	case "exit", "quit":
		return false
	case "help":
		printHelp()
	case "set", "add":
		if len(parts) < 4 {
			fmt.Println("usage: set <dataset> <region_key> <measure> [description]")
			return true
		}
		desc := strings.Join(parts[4:], " ")
		if err := upsertResult(ctx, db, parts[1], parts[2], parts[3], desc); err != nil {
			fmt.Println("error:", err)
		} else {
			fmt.Println("ok")
		}
	case "del":
		if len(parts) < 3 {
			fmt.Println("usage: del <dataset> <region_key>")
			return true
		}
		ok, err := delResult(ctx, db, parts[1], parts[2])
		switch {
		case err != nil:
			fmt.Println("error:", err)
		case !ok:
			fmt.Println("none")
		default:
			fmt.Println("ok")
		}
	case "get":
		if len(parts) < 3 {
			fmt.Println("usage: get <dataset> <region_key>")
			return true
		}
		s, err := getResult(ctx, db, parts[1], parts[2])
		if err != nil {
			fmt.Println("error:", err)
		} else {
			fmt.Println(s)
		}
	case "list":
		if len(parts) < 2 {
			fmt.Println("usage: list <dataset> [limit]")
			return true
		}
		limit := 50
		if len(parts) >= 3 {
			if n, e := strconv.Atoi(parts[2]); e == nil && n > 0 {
				limit = n
			}
		}
		xs, err := listResults(ctx, db, parts[1], limit)
		if err != nil {
			fmt.Println("error:", err)
			return true
		}
		for _, s := range xs {
			fmt.Println(s)
		}
	case "datasets":
		xs, err := listDatasets(ctx, db)
		if err != nil {
			fmt.Println("error:", err)
			return true
		}
		if len(xs) == 0 {
			fmt.Println("none")
		}
		for _, s := range xs {
			fmt.Println(s)
		}
	default:
		fmt.Println("unknown command")
	}
	return true
}

func main() {
	var envFiles []string
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == "--env" && i+1 < len(os.Args) {
			envFiles = append(envFiles, os.Args[i+1])
			i++
		} else if strings.HasSuffix(os.Args[i], ".env") {
			envFiles = append(envFiles, os.Args[i])
		}
	}
	config.LoadEnvFiles(envFiles...)
	db, err := utils.OpenPostgresFromEnv()
	if err == nil && db == nil {
		err = fmt.Errorf("PG_HOST or DATABASE_URL not set")
	}
	if err != nil {
		fmt.Println("db error:", err)
		os.Exit(1)
	}
	defer db.Close()
	ctx := context.Background()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		fmt.Println("schema error:", err)
		os.Exit(1)
	}
	fmt.Println("results kv cli ready")
	printHelp()
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		parts := strings.Fields(in.Text())
		if len(parts) == 0 {
			continue
		}
		if !run(ctx, db, parts) {
			return
		}
	}
}
