package migrations

import "embed"

// Files 按方言目录（mysql/、postgres/）暴露所有 SQL 迁移文件。
//
//go:embed mysql/*.sql postgres/*.sql
var Files embed.FS
