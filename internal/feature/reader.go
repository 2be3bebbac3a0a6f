package feature

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadRankedTSV reads features from tab-separated lines of
//
//	symbol  fdr  fold_change  [description]
//
// Blank lines and lines starting with '#' are skipped. A first line whose
// numeric columns do not parse is treated as a header.
func ReadRankedTSV(r io.Reader) ([]Feature, error) {
	var features []Feature
	scanner := bufio.NewScanner(r)
	lineNum := 0
	headerAllowed := true
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		first := headerAllowed
		headerAllowed = false

		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 columns, got %d", lineNum, len(fields))
		}

		fdr, errFDR := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		fc, errFC := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if errFDR != nil || errFC != nil {
			if first {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid numeric column in %q", lineNum, line)
		}

		f := Feature{
			Name:       strings.TrimSpace(fields[0]),
			FDR:        fdr,
			FoldChange: fc,
		}
		if len(fields) > 3 {
			f.Description = strings.TrimSpace(fields[3])
		}
		features = append(features, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ranked list: %w", err)
	}
	return features, nil
}
