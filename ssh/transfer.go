package ssh

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Lvzhenqian/console/errors"
	"github.com/kr/fs"
	"github.com/pkg/sftp"
	"gopkg.in/cheggaaa/pb.v1"
)

// Transfer copies files and directory trees over one sftp channel.
type Transfer struct {
	sftp  *sftp.Client
	pb    bool
	pbOut io.Writer
}

// Transfer opens an sftp channel. The caller closes the Transfer.
func (c *Client) Transfer() (*Transfer, error) {
	cli, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, errors.Wrapf(err, "sftp")
	}
	return &Transfer{sftp: cli, pb: c.pb, pbOut: c.pbOut}, nil
}

func (t *Transfer) Close() error {
	return t.sftp.Close()
}

// Push copies a local file or directory to dst. A file pushed onto an
// existing remote directory lands inside it.
func (c *Client) Push(src, dst string) error {
	t, err := c.Transfer()
	if err != nil {
		return err
	}
	defer t.Close()
	return t.Push(src, dst)
}

// Get copies a remote file or directory to dst.
func (c *Client) Get(src, dst string) error {
	t, err := c.Transfer()
	if err != nil {
		return err
	}
	defer t.Close()
	return t.Get(src, dst)
}

func (t *Transfer) Push(src, dst string) error {
	realSrc := localRealPath(src)
	realDst, err := t.remoteRealPath(dst)
	if err != nil {
		return err
	}
	srcStat, err := os.Stat(realSrc)
	if err != nil {
		return err
	}
	if srcStat.IsDir() {
		return t.PushDir(realSrc, realDst)
	}
	if dstStat, err := t.sftp.Stat(realDst); err == nil && dstStat.IsDir() {
		realDst = path.Join(realDst, filepath.Base(realSrc))
	}
	return t.PushFile(realSrc, realDst)
}

func (t *Transfer) Get(src, dst string) error {
	realSrc, err := t.remoteRealPath(src)
	if err != nil {
		return err
	}
	realDst := localRealPath(dst)
	srcStat, err := t.sftp.Stat(realSrc)
	if err != nil {
		return err
	}
	if srcStat.IsDir() {
		return t.GetDir(realSrc, realDst)
	}
	if dstStat, err := os.Stat(realDst); err == nil && dstStat.IsDir() {
		realDst = filepath.Join(realDst, path.Base(realSrc))
	}
	return t.GetFile(realSrc, realDst)
}

func (t *Transfer) PushFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()
	srcStat, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := t.sftp.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	defer dstFile.Close()

	var reader io.Reader = srcFile
	if bar := t.progressBar(filepath.Base(src), srcStat.Size()); bar != nil {
		defer bar.Finish()
		reader = bar.NewProxyReader(srcFile)
	}
	_, err = io.Copy(dstFile, reader)
	return err
}

func (t *Transfer) GetFile(src, dst string) error {
	srcFile, err := t.sftp.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()
	srcStat, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	var writer io.Writer = dstFile
	if bar := t.progressBar(path.Base(src), srcStat.Size()); bar != nil {
		defer bar.Finish()
		writer = io.MultiWriter(bar, dstFile)
	}
	_, err = srcFile.WriteTo(writer)
	return err
}

// PushDir recreates the local tree src as dst/<base of src>.
func (t *Transfer) PushDir(src, dst string) error {
	bar := t.progressBar(filepath.Base(src), treeSize(fs.Walk(src)))
	if bar != nil {
		defer bar.Finish()
	}

	root := filepath.Dir(src)
	walker := fs.Walk(src)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, walker.Path())
		if err != nil {
			return err
		}
		target := path.Join(dst, filepath.ToSlash(rel))
		if walker.Stat().IsDir() {
			if err := t.sftp.MkdirAll(target); err != nil {
				return errors.Wrapf(err, "mkdir %s", target)
			}
			continue
		}
		n, err := t.copyToRemote(walker.Path(), target)
		if err != nil {
			return err
		}
		if bar != nil {
			bar.Add64(n)
		}
	}
	return nil
}

// GetDir recreates the remote tree src as dst/<base of src>.
func (t *Transfer) GetDir(src, dst string) error {
	bar := t.progressBar(path.Base(src), treeSize(t.sftp.Walk(src)))
	if bar != nil {
		defer bar.Finish()
	}

	base := path.Dir(src)
	walker := t.sftp.Walk(src)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}
		target := filepath.Join(dst, filepath.FromSlash(strings.TrimPrefix(walker.Path(), base)))
		if walker.Stat().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		n, err := t.copyToLocal(walker.Path(), target)
		if err != nil {
			return err
		}
		if bar != nil {
			bar.Add64(n)
		}
	}
	return nil
}

func (t *Transfer) copyToRemote(src, dst string) (int64, error) {
	s, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	d, err := t.sftp.Create(dst)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", dst)
	}
	defer d.Close()
	return io.Copy(d, s)
}

func (t *Transfer) copyToLocal(src, dst string) (int64, error) {
	s, err := t.sftp.Open(src)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	d, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer d.Close()
	return s.WriteTo(d)
}

// treeSize sums the regular file sizes a walker visits.
func treeSize(w *fs.Walker) int64 {
	var total int64
	for w.Step() {
		if w.Err() != nil {
			continue
		}
		if stat := w.Stat(); !stat.IsDir() {
			total += stat.Size()
		}
	}
	return total
}

func (t *Transfer) progressBar(title string, total int64) *pb.ProgressBar {
	if !t.pb {
		return nil
	}
	bar := pb.New64(total)
	bar.SetUnits(pb.U_BYTES)
	bar.ShowSpeed = true
	bar.ShowTimeLeft = true
	bar.ShowPercent = true
	if t.pbOut != nil {
		bar.Output = t.pbOut
	}
	bar.Prefix(title)
	return bar.Start()
}

func (t *Transfer) remoteRealPath(ph string) (string, error) {
	if ph != "~" && !strings.HasPrefix(ph, "~/") {
		return ph, nil
	}
	home, err := t.sftp.Getwd()
	if err != nil {
		return "", errors.Wrapf(err, "remote home")
	}
	return path.Join(home, strings.TrimPrefix(ph, "~")), nil
}
