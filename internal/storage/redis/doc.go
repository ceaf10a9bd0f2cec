// Package redis 基于 Redis 提供键值与 TTL 能力：登录 nonce 的单次消费存储，
// 以及供审核队列复用的共享连接。
package redis
