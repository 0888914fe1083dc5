// Package cache 管理按 feed 划分的本地构件缓存目录：目录解析、容量保障，
// 以及按坐标匹配已有缓存文件的递归扫描。
//
// 磁盘布局：
//
//	<StoragePath>/<feed>/<escaped-id>#<version>@<token>.<packaging>
//
// 文件名的唯一 token 是跨进程并发下载时唯一的防撞机制，目录本身不加锁。
package cache
