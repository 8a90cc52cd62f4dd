package monitoring

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReadNumber reads a file holding a single integer, such as cpuacct.usage.
func ReadNumber(filename string) (int64, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}

	return value, nil
}

// ReadStatField reads the value of "key value" line from a flat keyed file like cpu.stat.
func ReadStatField(filename string, key string) (int64, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != key {
			continue
		}
		return strconv.ParseInt(fields[1], 10, 64)
	}
	return 0, fmt.Errorf("cannot find %s attribute in %s", key, filename)
}

// ReadReapedTicks returns cutime and cstime of a /proc/<pid>/stat file: the clock ticks spent by
// children the process has already waited for.
func ReadReapedTicks(filename string) (int64, int64, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, 0, err
	}

	// comm may contain spaces and parentheses, fields restart after the last ')'
	content := string(data)
	end := strings.LastIndexByte(content, ')')
	if end < 0 {
		return 0, 0, fmt.Errorf("cannot parse %s", filename)
	}
	fields := strings.Fields(content[end+1:])
	// fields[0] is field 3 (state); cutime and cstime are fields 16 and 17
	if len(fields) < 15 {
		return 0, 0, fmt.Errorf("cannot find cutime and cstime in %s", filename)
	}
	cutime, err := strconv.ParseInt(fields[13], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	cstime, err := strconv.ParseInt(fields[14], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return cutime, cstime, nil
}
