package session

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ComponentKind 清单中的组件类型
type ComponentKind string

const (
	ComponentActivity ComponentKind = "activity"
	ComponentService  ComponentKind = "service"
	ComponentReceiver ComponentKind = "receiver"
	ComponentProvider ComponentKind = "provider"
)

type manifestDoc struct {
	Package     string `xml:"package,attr"`
	Application struct {
		Activities []manifestComponent `xml:"activity"`
		Aliases    []manifestComponent `xml:"activity-alias"`
		Services   []manifestComponent `xml:"service"`
		Receivers  []manifestComponent `xml:"receiver"`
		Providers  []manifestComponent `xml:"provider"`
	} `xml:"application"`
}

type manifestComponent struct {
	Name          string     `xml:"http://schemas.android.com/apk/res/android name,attr"`
	Exported      string     `xml:"http://schemas.android.com/apk/res/android exported,attr"`
	IntentFilters []struct{} `xml:"intent-filter"`
}

// exported android:exported 显式为 true，或未声明但带 intent-filter
func (c *manifestComponent) exported() bool {
	switch strings.TrimSpace(c.Exported) {
	case "true":
		return true
	case "":
		return len(c.IntentFilters) > 0
	default:
		return false
	}
}

// parseExported 解析清单文本，按出现顺序返回某类导出组件的完整类名
func parseExported(manifest string, kind ComponentKind) ([]string, error) {
	var doc manifestDoc
	if err := xml.Unmarshal([]byte(manifest), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	var components []manifestComponent
	switch kind {
	case ComponentActivity:
		// activity-alias 与 activity 一样可以被外部启动
		components = append(doc.Application.Activities, doc.Application.Aliases...)
	case ComponentService:
		components = doc.Application.Services
	case ComponentReceiver:
		components = doc.Application.Receivers
	case ComponentProvider:
		components = doc.Application.Providers
	default:
		return nil, fmt.Errorf("unknown component kind %q", kind)
	}

	out := make([]string, 0, len(components))
	for i := range components {
		c := &components[i]
		if c.Name == "" || !c.exported() {
			continue
		}
		out = append(out, resolveComponentName(doc.Package, c.Name))
	}
	return out, nil
}

// resolveComponentName 把 .Foo 或 Foo 这种相对名补全为包名前缀
func resolveComponentName(pkg, name string) string {
	switch {
	case strings.HasPrefix(name, "."):
		return pkg + name
	case !strings.Contains(name, ".") && pkg != "":
		return pkg + "." + name
	default:
		return name
	}
}
