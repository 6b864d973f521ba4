// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/james-bowman/sparse"
	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"
)

// loadCountMatrix reads a variant×cell count matrix from a .npy, .mtx, or
// .mtx.gz file. Absent, NaN, and non-positive entries all mean zero
// coverage.
func loadCountMatrix(path string) (*sparse.CSR, error) {
	switch {
	case strings.HasSuffix(path, ".npy"):
		return readNpyCounts(path)
	case strings.HasSuffix(path, ".mtx.gz"):
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		return readMatrixMarket(gz)
	case strings.HasSuffix(path, ".mtx"):
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return readMatrixMarket(f)
	default:
		return nil, fmt.Errorf("unsupported count matrix format %q (want .npy, .mtx, or .mtx.gz)", path)
	}
}

// readMatrixMarket parses a MatrixMarket coordinate stream (real or
// integer, general symmetry) into CSR form.
func readMatrixMarket(r io.Reader) (*sparse.CSR, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	if !sc.Scan() {
		return nil, fmt.Errorf("empty MatrixMarket stream")
	}
	header := strings.Fields(sc.Text())
	if len(header) < 4 || !strings.HasPrefix(header[0], "%%MatrixMarket") || header[1] != "matrix" || header[2] != "coordinate" {
		return nil, fmt.Errorf("unsupported MatrixMarket header %q", sc.Text())
	}
	if f := header[3]; f != "real" && f != "integer" {
		return nil, fmt.Errorf("unsupported MatrixMarket field type %q", f)
	}
	if len(header) > 4 && header[4] != "general" {
		return nil, fmt.Errorf("unsupported MatrixMarket symmetry %q", header[4])
	}
	var dok *sparse.DOK
	var rows, cols, nnz, seen int
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		f := strings.Fields(line)
		if dok == nil {
			if len(f) != 3 {
				return nil, fmt.Errorf("malformed MatrixMarket size line %q", line)
			}
			var err error
			if rows, err = strconv.Atoi(f[0]); err != nil {
				return nil, err
			}
			if cols, err = strconv.Atoi(f[1]); err != nil {
				return nil, err
			}
			if nnz, err = strconv.Atoi(f[2]); err != nil {
				return nil, err
			}
			dok = sparse.NewDOK(rows, cols)
			continue
		}
		if len(f) != 3 {
			return nil, fmt.Errorf("malformed MatrixMarket entry %q", line)
		}
		seen++
		i, err := strconv.Atoi(f[0])
		if err != nil {
			return nil, err
		}
		j, err := strconv.Atoi(f[1])
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return nil, err
		}
		if i < 1 || i > rows || j < 1 || j > cols {
			return nil, fmt.Errorf("MatrixMarket entry (%d,%d) outside %d×%d", i, j, rows, cols)
		}
		if math.IsNaN(v) || v <= 0 {
			continue
		}
		dok.Set(i-1, j-1, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if dok == nil {
		return nil, fmt.Errorf("MatrixMarket stream has no size line")
	}
	if seen != nnz {
		return nil, fmt.Errorf("MatrixMarket stream has %d entries, size line promised %d", seen, nnz)
	}
	return dok.ToCSR(), nil
}

func readNpyCounts(path string) (*sparse.CSR, error) {
	data, shape, colMajor, err := readNpy(path)
	if err != nil {
		return nil, err
	}
	rows, cols := shape[0], shape[1]
	dok := sparse.NewDOK(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := data[npyIndex(i, j, rows, cols, colMajor)]
			if math.IsNaN(v) || v <= 0 {
				continue
			}
			dok.Set(i, j, v)
		}
	}
	return dok.ToCSR(), nil
}

// readNpyMatrix reads a dense 2-D .npy file (used for known donor
// genotypes).
func readNpyMatrix(path string) (*mat.Dense, error) {
	data, shape, colMajor, err := readNpy(path)
	if err != nil {
		return nil, err
	}
	rows, cols := shape[0], shape[1]
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, data[npyIndex(i, j, rows, cols, colMajor)])
		}
	}
	return out, nil
}

func npyIndex(i, j, rows, cols int, colMajor bool) int {
	if colMajor {
		return j*rows + i
	}
	return i*cols + j
}

func readNpy(path string) (data []float64, shape []int, colMajor bool, err error) {
	rd, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%s: %w", path, err)
	}
	if len(rd.Shape) != 2 {
		return nil, nil, false, fmt.Errorf("%s: want a 2-D array, got shape %v", path, rd.Shape)
	}
	switch rd.Dtype {
	case "f8":
		data, err = rd.GetFloat64()
	case "f4":
		var v []float32
		if v, err = rd.GetFloat32(); err == nil {
			data = make([]float64, len(v))
			for i, x := range v {
				data[i] = float64(x)
			}
		}
	case "i8":
		var v []int64
		if v, err = rd.GetInt64(); err == nil {
			data = make([]float64, len(v))
			for i, x := range v {
				data[i] = float64(x)
			}
		}
	case "i4":
		var v []int32
		if v, err = rd.GetInt32(); err == nil {
			data = make([]float64, len(v))
			for i, x := range v {
				data[i] = float64(x)
			}
		}
	case "i2":
		var v []int16
		if v, err = rd.GetInt16(); err == nil {
			data = make([]float64, len(v))
			for i, x := range v {
				data[i] = float64(x)
			}
		}
	default:
		return nil, nil, false, fmt.Errorf("%s: unsupported dtype %q", path, rd.Dtype)
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return data, rd.Shape, rd.ColumnMajor, nil
}
