package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"keyguard/backend/internal/config"
	"keyguard/backend/internal/storage/postgres"
	sqlstore "keyguard/backend/internal/storage/sql"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// run 解析参数并执行迁移
//
// 参数默认取自 KEYGUARD_DATABASE_TYPE 与 KEYGUARD_DATABASE_DSN。
func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	dbType := fs.String("type", os.Getenv("KEYGUARD_DATABASE_TYPE"), "数据库类型: postgres, mysql 或 sqlite")
	dbDSN := fs.String("dsn", os.Getenv("KEYGUARD_DATABASE_DSN"), "数据库连接字符串")
	action := fs.String("action", "up", "操作: up (建表) 或 print (只打印语句)")
	timeout := fs.Duration("timeout", 30*time.Second, "整体超时")
	if err := fs.Parse(args); err != nil {
		return err
	}

	statements, err := sqlstore.Schema(*dbType)
	if err != nil {
		return err
	}

	switch *action {
	case "print":
		for _, stmt := range statements {
			fmt.Fprintf(out, "%s;\n\n", strings.TrimSpace(stmt))
		}
		return nil
	case "up":
	default:
		return fmt.Errorf("不支持的操作 '%s'", *action)
	}

	if *dbDSN == "" {
		fs.Usage()
		return fmt.Errorf("缺少 -dsn 参数")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *dbType == "postgres" {
		err = migratePostgres(ctx, *dbDSN, statements)
	} else {
		err = migrateSQL(ctx, *dbType, *dbDSN)
	}
	if err != nil {
		return fmt.Errorf("执行迁移失败: %w", err)
	}

	fmt.Fprintf(out, "✓ %s 迁移成功完成，共 %d 条语句\n", *dbType, len(statements))
	return nil
}

// migratePostgres 通过 pgx 连接池在单个事务中执行建表语句
func migratePostgres(ctx context.Context, dsn string, statements []string) error {
	client, err := postgres.New(&config.DatabaseConfig{DSN: dsn, MaxOpenConns: 1}, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.ExecScript(ctx, statements)
}

// migrateSQL 通过 sqlx 执行 MySQL / SQLite 建表语句
func migrateSQL(ctx context.Context, driverName, dsn string) error {
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return fmt.Errorf("无法连接数据库: %w", err)
	}
	defer db.Close()

	return sqlstore.Migrate(ctx, db)
}
