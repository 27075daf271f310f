package mcp

// Tool 对外声明的工具
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema 工具参数的 JSON Schema
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property 单个参数
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type param struct {
	name string
	prop Property
}

const (
	instanceIDDesc = "An unique string type id to identify this jadx instance."
	classNameDesc  = "The class name needs to be a JVM class descriptor, e.g. `Lcom/example/abc/SomeClass;`."
	methodNameDesc = "The method signature must be the full JVM method signature, e.g. `Lcom/example/abc;->testMethod(Ljava/lang/String;I)V`."
)

var (
	instanceIDParam = param{"instanceId", Property{Type: "string", Description: instanceIDDesc}}
	classNameParam  = param{"className", Property{Type: "string", Description: classNameDesc}}
	methodNameParam = param{"methodName", Property{Type: "string", Description: methodNameDesc}}
)

// newTool 所有参数都是必填；工具名与 HTTP 路由同名
func newTool(name, description string, params ...param) Tool {
	schema := InputSchema{Type: "object", Properties: make(map[string]Property, len(params))}
	for _, p := range params {
		schema.Properties[p.name] = p.prop
		schema.Required = append(schema.Required, p.name)
	}
	return Tool{Name: name, Description: description, InputSchema: schema}
}

// Tools 守护进程提供的全部工具，与 HTTP 路由一一对应
func Tools() []Tool {
	return []Tool{
		newTool("health", "Health check."),
		newTool("load", "Load a single apk, dex or jar file to jadx decompiler.",
			instanceIDParam,
			param{"filePath", Property{Type: "string", Description: "Full path of the single apk, dex or jar file."}}),
		newTool("load_dir", "Load a dir which contains many apks and dexs to jadx decompiler.",
			instanceIDParam,
			param{"dirPath", Property{Type: "string", Description: "Full path of the directory."}}),
		newTool("unload", "Unload jadx decompiler by instance id.", instanceIDParam),
		newTool("unload_all", "Unload all instances from jadx decompiler."),
		newTool("get_manifest", "Get the AndroidManifest.xml file content.", instanceIDParam),
		newTool("get_all_exported_activities", "Get all exported activity names from the APK manifest.", instanceIDParam),
		newTool("get_all_exported_services", "Get all exported service names from the APK manifest.", instanceIDParam),
		newTool("get_method_decompiled_code", "Get the decompiled code of the given java method.", instanceIDParam, methodNameParam),
		newTool("get_class_decompiled_code", "Get the decompiled code of the given java class.", instanceIDParam, classNameParam),
		newTool("get_class_smali_code", "Get the smali code of the given java class.", instanceIDParam, classNameParam),
		newTool("get_superclass", "Get the superclass of the given java class.", instanceIDParam, classNameParam),
		newTool("get_interfaces", "Get the interfaces of the given java class.", instanceIDParam, classNameParam),
		newTool("get_class_methods", "Get the method list of the given java class.", instanceIDParam, classNameParam),
		newTool("get_class_fields", "Get the field list of the given java class.", instanceIDParam, classNameParam),
		newTool("get_method_callers", "Get the caller list of the given java method.", instanceIDParam, methodNameParam),
		newTool("get_class_callers", "Get the caller list of the given java class.", instanceIDParam, classNameParam),
		newTool("get_method_overrides", "Get the override list of the given java method.", instanceIDParam, methodNameParam),
		newTool("update_max_instance_count",
			"Update the max parallel jadx decompiler instance count, if you set a large value, this will use lots of memory and may get a OOM error.",
			param{"count", Property{Type: "integer", Description: "The new max instance count must be at least 1."}}),
	}
}
