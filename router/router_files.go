package router

import (
	"net/http"
	"strconv"

	"emperror.dev/errors"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/pterodactyl/originfs/router/middleware"
	"github.com/pterodactyl/originfs/storage"
	"github.com/pterodactyl/originfs/tree"
)

type treeEntry struct {
	Name string       `json:"name"`
	Path string       `json:"path"`
	Kind storage.Kind `json:"kind"`
}

// Returns the children of a directory, directories first.
func getTree(c *gin.Context) {
	t := middleware.ExtractTree(c)
	p := c.DefaultQuery("path", "/")

	d := t.Dir(p)
	if !d.Exists() {
		middleware.CaptureAndAbort(c, storage.NewErrorf(storage.ErrCodeNotFound, "list", p, "directory does not exist"))
		return
	}

	dirs := make([]treeEntry, 0)
	files := make([]treeEntry, 0)
	for _, n := range d.Children() {
		e := treeEntry{Name: n.Name(), Path: n.Path(), Kind: n.Kind()}
		if n.Kind() == storage.KindDirectory {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}
	c.JSON(http.StatusOK, append(dirs, files...))
}

// Returns the contents of a file in the origin.
func getFileContents(c *gin.Context) {
	t := middleware.ExtractTree(c)
	f := t.File(c.Query("file"))

	if _, err := f.Stat(); err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	b, err := f.ReadAll(c.Request.Context())
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}

	c.Header("X-Mime-Type", mimetype.Detect(b).String())
	c.Header("Content-Length", strconv.Itoa(len(b)))
	// If a download parameter is included in the URL go ahead and attach the necessary headers
	// so that the file can be downloaded.
	if c.Query("download") != "" {
		c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(f.Name()))
		c.Header("Content-Type", "application/octet-stream")
	}
	_, _ = c.Writer.Write(b)
}

// Writes the request body into a file, replacing any existing content.
func postWriteFile(c *gin.Context) {
	t := middleware.ExtractTree(c)
	f := t.File(c.Query("file"))

	if f.Path() == "/" || c.Query("file") == "" {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": "No file was provided to write to.",
		})
		return
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, uploadLimit())
	if err := f.Write(c.Request.Context(), body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "The file being written exceeds the maximum upload size.",
			})
			return
		}
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Creates a directory and any missing parents.
func postCreateDirectory(c *gin.Context) {
	t := middleware.ExtractTree(c)

	var data struct {
		Path string `json:"path"`
	}
	if err := c.BindJSON(&data); err != nil {
		return
	}
	if data.Path == "" {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": "No directory path was provided.",
		})
		return
	}

	if _, err := t.Dir(data.Path).CreateDirectory(); err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type transferRequest struct {
	From string       `json:"from"`
	To   string       `json:"to"`
	Kind storage.Kind `json:"kind"`
}

// nodes resolves the source and destination of a copy or move. The source
// kind is taken from the request, or detected when it is omitted. The
// destination is whatever exists at the path, or the source kind if nothing
// does.
func (r transferRequest) nodes(t *tree.Tree) (tree.Node, tree.Node) {
	var src tree.Node
	switch r.Kind {
	case storage.KindDirectory:
		src = t.Dir(r.From)
	case storage.KindFile:
		src = t.File(r.From)
	default:
		src, _ = t.Lookup(r.From)
	}

	dest, ok := t.Lookup(r.To)
	if !ok && src.Kind() == storage.KindDirectory {
		dest = t.Dir(r.To)
	}
	return src, dest
}

func bindTransfer(c *gin.Context) (transferRequest, bool) {
	var data transferRequest
	if err := c.BindJSON(&data); err != nil {
		return data, false
	}
	if data.From == "" || data.To == "" {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Invalid paths were provided, did you forget to provide both a source and destination?",
		})
		return data, false
	}
	if data.Kind != "" && data.Kind != storage.KindFile && data.Kind != storage.KindDirectory {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": "The kind must be either \"file\" or \"directory\".",
		})
		return data, false
	}
	return data, true
}

// Copies a file or directory.
func postCopy(c *gin.Context) {
	data, ok := bindTransfer(c)
	if !ok {
		return
	}
	src, dest := data.nodes(middleware.ExtractTree(c))

	var out tree.Node
	var err error
	switch n := src.(type) {
	case tree.Directory:
		out, err = n.CopyTo(c.Request.Context(), dest)
	case tree.File:
		out, err = n.CopyTo(c.Request.Context(), dest)
	}
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": out.Path()})
}

// Moves a file or directory.
func postMove(c *gin.Context) {
	data, ok := bindTransfer(c)
	if !ok {
		return
	}
	src, dest := data.nodes(middleware.ExtractTree(c))

	var out tree.Node
	var err error
	switch n := src.(type) {
	case tree.Directory:
		out, err = n.MoveTo(c.Request.Context(), dest)
	case tree.File:
		out, err = n.MoveTo(c.Request.Context(), dest)
	}
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": out.Path()})
}

// Deletes a file or directory. Deleting something that does not exist is not
// an error.
func postDelete(c *gin.Context) {
	t := middleware.ExtractTree(c)

	var data struct {
		Path string       `json:"path"`
		Kind storage.Kind `json:"kind"`
	}
	if err := c.BindJSON(&data); err != nil {
		return
	}
	if data.Path == "" {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": "No path was provided to delete.",
		})
		return
	}

	var err error
	switch data.Kind {
	case storage.KindDirectory:
		err = t.Dir(data.Path).Remove()
	case storage.KindFile:
		err = t.File(data.Path).Remove()
	default:
		n, _ := t.Lookup(data.Path)
		err = n.Remove()
	}
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
