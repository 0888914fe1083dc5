package cache

import "syscall"

// freeBytes 查询目录所在文件系统的可用字节数，可在测试中替换。
var freeBytes = func(dir string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
