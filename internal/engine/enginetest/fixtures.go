package enginetest

// SampleManifest 测试用 AndroidManifest.xml
const SampleManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example">
    <application android:label="Example">
        <activity android:name=".MainActivity" android:exported="true">
            <intent-filter>
                <action android:name="android.intent.action.MAIN"/>
                <category android:name="android.intent.category.LAUNCHER"/>
            </intent-filter>
        </activity>
        <activity android:name="com.example.SettingsActivity" android:exported="false"/>
        <activity android:name="DeepLinkActivity">
            <intent-filter>
                <action android:name="android.intent.action.VIEW"/>
            </intent-filter>
        </activity>
        <activity-alias android:name=".Alias" android:targetActivity=".MainActivity" android:exported="true"/>
        <activity-alias android:name=".HiddenAlias" android:targetActivity=".MainActivity"/>
        <service android:name=".SyncService" android:exported="true"/>
        <service android:name="com.example.InternalService"/>
        <receiver android:name=".BootReceiver" android:exported="true"/>
    </application>
</manifest>`

// SamplePackage 返回一个包含少量类的测试包
func SamplePackage() *Package {
	return &Package{
		Manifest: SampleManifest,
		Classes: []Class{
			{
				Name:       "com.example.Foo",
				Super:      "com.example.Base",
				Interfaces: []string{"java.lang.Runnable", "com.example.Listener"},
				Code:       "package com.example;\n\npublic class Foo extends Base implements Runnable, Listener {\n}\n",
				Smali:      ".class public Lcom/example/Foo;\n.super Lcom/example/Base;\n",
				Methods: []Method{
					{
						Signature: "com.example.Foo.bar(java.lang.String, int):void",
						Code:      "public void bar(String s, int i) {\n}\n",
						UsedBy:    []string{"com.example.MainActivity.onCreate(android.os.Bundle):void"},
						Overrides: []string{"com.example.Base.bar(java.lang.String, int):void"},
					},
					{
						Signature: "com.example.Foo.run():void",
						Code:      "public void run() {\n}\n",
					},
				},
				Fields: []string{"com.example.Foo.count", "com.example.Foo.name"},
				UsedBy: []string{"com.example.MainActivity"},
			},
			{
				Name:  "com.example.Base",
				Code:  "package com.example;\n\npublic abstract class Base {\n}\n",
				Smali: ".class public abstract Lcom/example/Base;\n.super Ljava/lang/Object;\n",
				Methods: []Method{
					{Signature: "com.example.Base.bar(java.lang.String, int):void"},
				},
			},
			{
				Name:  "com.example.MainActivity",
				Super: "android.app.Activity",
				Code:  "package com.example;\n\npublic class MainActivity extends Activity {\n}\n",
			},
		},
	}
}
